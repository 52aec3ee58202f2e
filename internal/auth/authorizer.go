package auth

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
)

// Result answers the two authorization questions for one request: is the
// caller allowed in at all, and may it perform management operations. When
// access came through a device token, DeviceID identifies the device for
// downstream scoping.
type Result struct {
	Authorized bool
	Management bool
	Loopback   bool
	DeviceID   string
}

// DeviceVerifier resolves a presented device token to a device id, rejecting
// revoked devices. Implemented by the device trust store.
type DeviceVerifier interface {
	VerifyToken(token string) (deviceID string, ok bool)
}

// Authorizer evaluates the access policy:
//
//	remote disabled: loopback gets everything, everyone else nothing.
//	remote enabled:  loopback gets everything; the shared management token
//	                 gets everything; a valid device token gets general
//	                 access only; anything else is rejected.
type Authorizer struct {
	RemoteEnabled   bool
	ManagementToken string
	Devices         DeviceVerifier
}

func (a *Authorizer) Authorize(r *http.Request) Result {
	isLoopback := isLoopbackAddr(r.RemoteAddr)

	if isLoopback {
		return Result{Authorized: true, Management: true, Loopback: true}
	}

	if !a.RemoteEnabled {
		return Result{}
	}

	token := bearerToken(r)
	if token == "" {
		return Result{}
	}

	if a.ManagementToken != "" &&
		subtle.ConstantTimeCompare([]byte(token), []byte(a.ManagementToken)) == 1 {
		return Result{Authorized: true, Management: true}
	}

	if a.Devices != nil {
		if deviceID, ok := a.Devices.VerifyToken(token); ok {
			return Result{Authorized: true, DeviceID: deviceID}
		}
	}

	return Result{}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func isLoopbackAddr(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
