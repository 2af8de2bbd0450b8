package cloudclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/bridgeerrors"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/tokencache"
)

// HTTPTimeout is the per-request timeout for every auth-endpoint call
// (spec §5 cancellation/timeouts).
const HTTPTimeout = 15 * time.Second

// anonymousTTL and loginTTL back the cache expiry written for stages
// that don't carry their own expiry claim (spec §4.3).
const (
	anonymousTTL       = 9 * time.Minute // ~10min declared lifetime, 9min cached
	loginSentinelYears = 14
)

// tokens is the in-memory token set for one account, mirrored into
// the Token Cache on every successful stage.
type tokens struct {
	anonymous string
	login     string
	mqtt      string
	mqttExp   time.Time
}

// valid reports whether the precondition for a tier-1 warm reconnect
// holds: both S2 and S3 have not expired.
func (t tokens) valid(now time.Time) bool {
	return t.login != "" && t.mqtt != "" && t.mqttExp.After(now)
}

type authResponse struct {
	Token string `json:"token"`
}

type deviceListResponse struct {
	Devices []deviceEntry `json:"devices"`
	HasMore bool          `json:"hasMore"`
	Cursor  string        `json:"cursor"`
}

type deviceEntry struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Model string `json:"model"`
}

// authenticate drives the three-stage pipeline, consulting the token
// cache before each network call and writing fresh tokens back on
// success. Stages that hit the cache perform zero network I/O.
func (c *Client) authenticate(ctx context.Context) error {
	if tok, ok, err := c.tokenCache.Get(c.account.Email, tokencache.StageAnonymous); err != nil {
		return bridgeerrors.NewFatal("cloudclient.authenticate", err)
	} else if ok {
		c.tok.anonymous = tok
	} else if err := c.stageAnonymous(ctx); err != nil {
		return err
	}

	if tok, ok, err := c.tokenCache.Get(c.account.Email, tokencache.StageLogin); err != nil {
		return bridgeerrors.NewFatal("cloudclient.authenticate", err)
	} else if ok {
		c.tok.login = tok
	} else if err := c.stageLogin(ctx); err != nil {
		return err
	}

	if tok, ok, err := c.tokenCache.Get(c.account.Email, tokencache.StageMQTT); err != nil {
		return bridgeerrors.NewFatal("cloudclient.authenticate", err)
	} else if ok {
		c.tok.mqtt = tok
		c.tok.mqttExp = c.jwtExpiry(tok)
	} else if err := c.stageMQTT(ctx); err != nil {
		return err
	}

	return nil
}

func (c *Client) stageAnonymous(ctx context.Context) error {
	fields := map[string]string{
		"scope": "anonymous",
	}
	body, err := c.post(ctx, c.cfg.AuthBaseURL+"/auth/anonymous", fields)
	if err != nil {
		return err
	}
	var resp authResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return bridgeerrors.NewAuthFailed("cloudclient.stageAnonymous", c.account.Email, "s1_anonymous", err)
	}
	c.tok.anonymous = resp.Token
	if err := c.tokenCache.Put(c.account.Email, tokencache.StageAnonymous, resp.Token, time.Now().Add(anonymousTTL)); err != nil {
		c.log.Warn("cloudclient: caching s1_anonymous token: %v", err)
	}
	return nil
}

func (c *Client) stageLogin(ctx context.Context) error {
	fields := map[string]string{
		"anonymousToken": c.tok.anonymous,
		"email":          c.account.Email,
		"password":       c.account.Password,
	}
	body, err := c.post(ctx, c.cfg.AuthBaseURL+"/auth/login", fields)
	if err != nil {
		return err
	}
	var resp authResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return bridgeerrors.NewAuthFailed("cloudclient.stageLogin", c.account.Email, "s2_login", err)
	}
	c.tok.login = resp.Token
	farFuture := time.Now().AddDate(loginSentinelYears, 0, 0)
	if err := c.tokenCache.Put(c.account.Email, tokencache.StageLogin, resp.Token, farFuture); err != nil {
		c.log.Warn("cloudclient: caching s2_login token: %v", err)
	}
	return nil
}

func (c *Client) stageMQTT(ctx context.Context) error {
	fields := map[string]string{
		"anonymousToken": c.tok.anonymous,
		"loginToken":     c.tok.login,
	}
	body, err := c.post(ctx, c.cfg.AuthBaseURL+"/auth/mqtt", fields)
	if err != nil {
		return err
	}
	var resp authResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return bridgeerrors.NewAuthFailed("cloudclient.stageMQTT", c.account.Email, "s3_mqtt", err)
	}
	c.tok.mqtt = resp.Token
	c.tok.mqttExp = c.jwtExpiry(resp.Token)
	if err := c.tokenCache.Put(c.account.Email, tokencache.StageMQTT, resp.Token, c.tok.mqttExp); err != nil {
		c.log.Warn("cloudclient: caching s3_mqtt token: %v", err)
	}
	return nil
}

// jwtExpiry decodes the exp claim without verifying the signature: the
// bridge trusts the vendor endpoint that issued the token over TLS,
// it only needs the expiry for cache bookkeeping.
func (c *Client) jwtExpiry(token string) time.Time {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		c.log.Warn("cloudclient: parsing MQTT JWT exp claim: %v", err)
		return time.Now().Add(anonymousTTL)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Now().Add(anonymousTTL)
	}
	return exp.Time
}

// post signs fields and POSTs them as a JSON body, wrapped in the
// auth circuit breaker (spec §4.7b).
func (c *Client) post(ctx context.Context, url string, fields map[string]string) ([]byte, error) {
	var respBody []byte
	err := c.breaker.Call(func() error {
		body, err := c.doPost(ctx, url, fields)
		if err != nil {
			return err
		}
		respBody = body
		return nil
	})
	if err != nil {
		if authErr, ok := err.(*bridgeerrors.AuthFailed); ok {
			return nil, authErr
		}
		return nil, bridgeerrors.NewNetworkTransient("cloudclient.post", url, err)
	}
	return respBody, nil
}

func (c *Client) doPost(ctx context.Context, url string, fields map[string]string) ([]byte, error) {
	sig := sign(fields, c.cfg.ClientSecret)

	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, HTTPTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(c.cfg.SignatureHeader, sig)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, bridgeerrors.NewAuthFailed("cloudclient.doPost", c.account.Email, "", fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return body, nil
}
