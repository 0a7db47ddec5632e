package cli

import (
	"encoding/json"
	"net/http"
	"path"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Client is a minimal json-over-http client for the allocation daemon api
type Client struct {
	c      http.Client
	t      string //type
	scheme string
	addr   string
}

// New creates a Client for a server address
func New(address string) *Client {
	parts := strings.SplitN(address, "://", 2)
	return &Client{scheme: parts[0], addr: parts[1], t: "application/json"}
}

// URLString joins an endpoint onto the server address
func (c *Client) URLString(endpoint string) string {
	return c.scheme + "://" + path.Join(c.addr, endpoint)
}

// GetMany fetches a list of resources
func (c *Client) GetMany(title, endpoint string) []JMap {
	resp, err := c.c.Get(c.URLString(endpoint))
	if err != nil {
		log.WithField("error", err).Fatal("failed to get " + title)
	}
	ret := []JMap{}
	processResponse(resp, title, http.StatusOK, &ret)
	return ret
}

// GetList fetches a list of strings
func (c *Client) GetList(title, endpoint string) []string {
	resp, err := c.c.Get(c.URLString(endpoint))
	if err != nil {
		log.WithField("error", err).Fatal("failed to get " + title)
	}
	ret := []string{}
	processResponse(resp, title, http.StatusOK, &ret)
	return ret
}

// Get fetches a single resource
func (c *Client) Get(title, endpoint string) JMap {
	resp, err := c.c.Get(c.URLString(endpoint))
	if err != nil {
		log.WithField("error", err).Fatal("failed to get " + title)
	}
	ret := JMap{}
	processResponse(resp, title, http.StatusOK, &ret)
	return ret
}

// Post creates a resource
func (c *Client) Post(title, endpoint, body string) JMap {
	resp, err := c.c.Post(c.URLString(endpoint), c.t, strings.NewReader(body))
	if err != nil {
		log.WithFields(log.Fields{
			"error": err,
			"body":  body,
		}).Fatal("unable to create new " + title)
	}
	ret := JMap{}
	processResponse(resp, title, http.StatusAccepted, &ret)
	return ret
}

// Del deletes a resource
func (c *Client) Del(title, endpoint string) JMap {
	addr := c.URLString(endpoint)
	req, err := http.NewRequest("DELETE", addr, nil)
	if err != nil {
		log.WithFields(log.Fields{
			"error":   err,
			"address": addr,
		}).Fatal("unable to form request")
	}
	req.Header.Add("ContentType", c.t)
	resp, err := c.c.Do(req)
	if err != nil {
		log.WithFields(log.Fields{
			"error":   err,
			"address": addr,
		}).Fatal("unable to complete request")
	}
	ret := JMap{}
	processResponse(resp, title, http.StatusAccepted, &ret)
	return ret
}

func processResponse(response *http.Response, title string, status int, dest interface{}) {
	defer response.Body.Close()

	if response.StatusCode != status {
		log.WithFields(log.Fields{
			"status": response.Status,
			"code":   response.StatusCode,
		}).Fatal("failed to get " + title)
	}

	if err := json.NewDecoder(response.Body).Decode(dest); err != nil {
		log.WithField("error", err).Fatal("failed to parse json")
	}
}
