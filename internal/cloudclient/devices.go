package cloudclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/devicecache"
)

// devicePageSize bounds each paged device-list request.
const devicePageSize = 50

// discoverDevices consults the Device Cache first; on miss it walks
// the paged device-list endpoint with the login token and installs
// the result (spec §4.7 device discovery).
func (c *Client) discoverDevices(ctx context.Context) ([]devicecache.Device, error) {
	if cached, ok, err := c.deviceCache.Get(c.account.Email); err != nil {
		return nil, err
	} else if ok {
		return cached, nil
	}
	return c.refreshDeviceList(ctx)
}

// refreshDeviceList invalidates the cache and re-discovers
// unconditionally.
func (c *Client) refreshDeviceList(ctx context.Context) ([]devicecache.Device, error) {
	var all []devicecache.Device
	cursor := ""
	for {
		fields := map[string]string{
			"loginToken": c.tok.login,
			"cursor":     cursor,
			"pageSize":   fmt.Sprintf("%d", devicePageSize),
		}
		body, err := c.post(ctx, c.cfg.AuthBaseURL+"/device/list", fields)
		if err != nil {
			return nil, err
		}
		var page deviceListResponse
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, err
		}
		for _, d := range page.Devices {
			all = append(all, devicecache.Device{ID: canonicalMAC(d.ID), Name: d.Name, Model: d.Model, Online: true})
		}
		if !page.HasMore {
			break
		}
		cursor = page.Cursor
	}

	if err := c.deviceCache.Put(c.account.Email, all); err != nil {
		c.log.Warn("cloudclient: caching device list: %v", err)
	}
	return all, nil
}

// canonicalMAC reduces raw to the system's canonical MAC form (spec
// §3/glossary: 12 hex digits, uppercase, no separators), since topic
// matching throughout the bridge is case-sensitive and the vendor's
// device-list response is not guaranteed to already be in this form.
func canonicalMAC(raw string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9':
			return r
		case r >= 'a' && r <= 'f':
			return r - ('a' - 'A')
		case r >= 'A' && r <= 'F':
			return r
		default:
			return -1
		}
	}, raw)
}
