//go:build chaos

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type toxiproxyClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

type proxy struct {
	Name     string `json:"name"`
	Listen   string `json:"listen"`
	Upstream string `json:"upstream"`
	Enabled  bool   `json:"enabled"`
}

type toxic struct {
	Name       string                 `json:"name"`
	Type       string                 `json:"type"`
	Stream     string                 `json:"stream"`
	Toxicity   float32                `json:"toxicity"`
	Attributes map[string]interface{} `json:"attributes"`
}

func newToxiproxyClient(baseURL string) *toxiproxyClient {
	return &toxiproxyClient{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *toxiproxyClient) createProxy(name, listen, upstream string) (*proxy, error) {
	data, err := json.Marshal(&proxy{Name: name, Listen: listen, Upstream: upstream, Enabled: true})
	if err != nil {
		return nil, err
	}

	resp, err := c.HTTPClient.Post(c.BaseURL+"/proxies", "application/json", bytes.NewBuffer(data))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("failed to create proxy (status %d): %s", resp.StatusCode, string(body))
	}

	var created proxy
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, fmt.Errorf("failed to parse created proxy response: %v, body: %s", err, string(body))
	}
	return &created, nil
}

func (c *toxiproxyClient) addToxic(proxyName string, t *toxic) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/proxies/%s/toxics", c.BaseURL, proxyName)
	resp, err := c.HTTPClient.Post(url, "application/json", bytes.NewBuffer(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to add toxic to proxy '%s' (status %d): %s", proxyName, resp.StatusCode, string(body))
	}
	return nil
}

func (c *toxiproxyClient) deleteProxy(name string) error {
	req, err := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/proxies/%s", c.BaseURL, name), nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to delete proxy: %s", string(body))
	}
	return nil
}

// chaosTestHelper puts a toxiproxy proxy in front of node addresses.
type chaosTestHelper struct {
	client  *toxiproxyClient
	proxies map[string]*proxy // by upstream address
}

func newChaosTestHelper(toxiproxyURL string) *chaosTestHelper {
	return &chaosTestHelper{
		client:  newToxiproxyClient(toxiproxyURL),
		proxies: make(map[string]*proxy),
	}
}

// setupProxy returns the address to dial instead of upstream.
func (h *chaosTestHelper) setupProxy(upstream, listen string) (string, error) {
	p, err := h.client.createProxy(proxyName(upstream), listen, upstream)
	if err != nil {
		return "", err
	}
	h.proxies[upstream] = p
	return p.Listen, nil
}

func (h *chaosTestHelper) addLatency(upstream string, latency time.Duration) error {
	return h.client.addToxic(proxyName(upstream), &toxic{
		Name:       "latency_downstream",
		Type:       "latency",
		Stream:     "downstream",
		Toxicity:   1.0,
		Attributes: map[string]interface{}{"latency": int(latency.Milliseconds())},
	})
}

// addTimeout stops all data through the proxy; a zero timeout never closes the connection.
func (h *chaosTestHelper) addTimeout(upstream string, timeout time.Duration) error {
	return h.client.addToxic(proxyName(upstream), &toxic{
		Name:       "timeout_upstream",
		Type:       "timeout",
		Stream:     "upstream",
		Toxicity:   1.0,
		Attributes: map[string]interface{}{"timeout": int(timeout.Milliseconds())},
	})
}

func (h *chaosTestHelper) cleanup() error {
	var lastErr error
	for upstream := range h.proxies {
		if err := h.client.deleteProxy(proxyName(upstream)); err != nil {
			lastErr = err
		}
		delete(h.proxies, upstream)
	}
	return lastErr
}

func proxyName(upstream string) string {
	return "threepc_" + strings.NewReplacer(":", "_", ".", "_").Replace(upstream)
}
