// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package google

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/juju/errors"
	"google.golang.org/api/googleapi"
)

// IsNotFound reports if given error is of 'not found' type.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var gError *googleapi.Error
	if errors.As(err, &gError) {
		return gError.Code == http.StatusNotFound
	}
	return errors.Is(err, errors.NotFound)
}

// IsAuthorisationFailure determines if the given error has an authorisation failure.
func IsAuthorisationFailure(err error) bool {
	if err == nil {
		return false
	}

	// API calls report a plain BadRequest for invalid arguments, so only
	// token requests are checked for it.
	var gError *googleapi.Error
	if errors.As(err, &gError) {
		return gError.Code != http.StatusBadRequest &&
			AuthorisationFailureStatusCodes[gError.Code] != nil
	}
	var urlError *url.Error
	if !errors.As(err, &urlError) {
		return false
	}
	for code, descs := range AuthorisationFailureStatusCodes {
		for _, desc := range descs {
			if strings.Contains(urlError.Error(), fmt.Sprintf(": %v %v", code, desc)) {
				return true
			}
		}
	}
	return false
}

// AuthorisationFailureStatusCodes contains http status code and
// description that signify authorisation difficulties.
//
// Google does not always use standard HTTP descriptions, which
// is why a single status code can map to multiple descriptions.
var AuthorisationFailureStatusCodes = map[int][]string{
	http.StatusUnauthorized:      {"Unauthorized"},
	http.StatusPaymentRequired:   {"Payment Required"},
	http.StatusForbidden:         {"Forbidden", "Access Not Configured"},
	http.StatusProxyAuthRequired: {"Proxy Auth Required"},
	// OAuth 2.0 also implements RFC#6749, so token requests can fail
	// with a plain BadRequest.
	http.StatusBadRequest: {"Bad Request"},
}
