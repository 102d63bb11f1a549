// Package satnogs looks up scheduled observations on the SatNOGS network.
// API docs at https://network.satnogs.org/api/
package satnogs

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	ProductionURL  = "https://network.satnogs.org"
	DevelopmentURL = "https://network-dev.satnogs.org"

	// Observations starting sooner than MinLead are ignored.
	MinLead = 60 * time.Second
	// LookAhead bounds how far ahead an observation is considered.
	LookAhead = 24 * time.Hour

	// maxPages guards against a server that links pages in a loop.
	maxPages = 100
)

type Observation struct {
	ID          int       `json:"id"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	NoradCatID  int       `json:"norad_cat_id"`
	Station     int       `json:"ground_station"`
	Status      string    `json:"status"`
	RiseAzimuth *float64  `json:"rise_azimuth"`
	SetAzimuth  *float64  `json:"set_azimuth"`
	MaxAltitude *float64  `json:"max_altitude"`
}

type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	now func() time.Time
}

// NewClient returns a client for network-dev if dev is set, otherwise for
// the production network.
func NewClient(dev bool) *Client {
	base := ProductionURL
	if dev {
		base = DevelopmentURL
	}
	return &Client{
		BaseURL:    base,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
}

// nextLink returns the rel="next" target of an RFC 8288 Link header.
func nextLink(header string) string {
	for _, link := range strings.Split(header, ",") {
		parts := strings.Split(link, ";")
		target := strings.TrimSpace(parts[0])
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		for _, param := range parts[1:] {
			param = strings.TrimSpace(param)
			if param == `rel="next"` || param == "rel=next" {
				return target[1 : len(target)-1]
			}
		}
	}
	return ""
}

func (c *Client) getPage(ctx context.Context, u string) ([]Observation, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("bad status code: %s\n%s", resp.Status, string(body))
	}
	var obs []Observation
	if err := json.Unmarshal(body, &obs); err != nil {
		return nil, "", fmt.Errorf("SatNOGS API did not return expected list: %w", err)
	}
	return obs, nextLink(resp.Header.Get("Link")), nil
}

// Observations returns every future observation scheduled on a station.
func (c *Client) Observations(ctx context.Context, stationID int) ([]Observation, error) {
	q := url.Values{}
	q.Set("ground_station", fmt.Sprint(stationID))
	q.Set("status", "future")
	u := fmt.Sprintf("%s/api/observations/?%s", strings.TrimRight(c.BaseURL, "/"), q.Encode())

	var all []Observation
	for page := 0; u != ""; page++ {
		if page >= maxPages {
			return nil, fmt.Errorf("more than %d pages of observations", maxPages)
		}
		obs, next, err := c.getPage(ctx, u)
		if err != nil {
			return nil, fmt.Errorf("getting %s: %w", u, err)
		}
		if len(obs) == 0 {
			break
		}
		log.Printf("Appended %d observations to list.", len(obs))
		all = append(all, obs...)
		u = next
	}
	return all, nil
}

// NextObservation returns the earliest observation on a station that starts
// between MinLead and LookAhead from now, or nil if there is none.
// Observations are not always returned in time order.
func (c *Client) NextObservation(ctx context.Context, stationID int) (*Observation, error) {
	all, err := c.Observations(ctx, stationID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if c.now != nil {
		now = c.now()
	}
	return earliest(all, now.Add(MinLead), now.Add(LookAhead)), nil
}

func earliest(all []Observation, after, before time.Time) *Observation {
	var next *Observation
	for i := range all {
		o := &all[i]
		if o.RiseAzimuth == nil {
			continue
		}
		if !o.Start.After(after) || !o.Start.Before(before) {
			continue
		}
		if next == nil || o.Start.Before(next.Start) {
			next = o
		}
	}
	return next
}
