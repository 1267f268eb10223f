// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

/*
Package request provides utilities for extracting data from HTTP requests.

It abstracts away the underlying router's parameter extraction and common
body decoding patterns, ensuring consistent error handling and type safety.
*/
package requestutil

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/averden/gatehouse/internal/access"
	"github.com/averden/gatehouse/internal/platform/apperr"
	"github.com/averden/gatehouse/internal/platform/ctxutil"
	"github.com/averden/gatehouse/internal/platform/validate"
)

/*
DecodeJSON reads the request body and decodes it into the target structure.

Parameters:
  - request: *http.Request
  - target: interface{} (Pointer to the destination struct)

Returns:
  - error: validate.ErrInvalidJSON if decoding fails, otherwise nil
*/
func DecodeJSON(request *http.Request, target interface{}) error {
	if err := json.NewDecoder(request.Body).Decode(target); err != nil {
		return validate.ErrInvalidJSON
	}
	return nil
}

/*
ID retrieves a named URL parameter (UUID/Slug) from the request.
*/
func ID(request *http.Request, name string) string {
	return chi.URLParam(request, name)
}

/*
Param retrieves a named URL parameter from the request.
*/
func Param(request *http.Request, name string) string {
	return chi.URLParam(request, name)
}

/*
Access extracts the assembled access context from the request context.

Returns nil if the request never passed through authentication.
*/
func Access(request *http.Request) *access.Context {
	return ctxutil.GetAccess(request.Context())
}

/*
RequiredAccess ensures the request is authenticated and returns its access context.

Returns:
  - *access.Context: The authenticated access context
  - error: apperr.Unauthenticated if the request carries no valid principal
*/
func RequiredAccess(request *http.Request) (*access.Context, error) {

	// Get the access context injected by the authentication middleware
	principal := ctxutil.GetAccess(request.Context())

	// Anonymous contexts carry no principal
	if principal == nil || !principal.Authenticated {
		return nil, apperr.Unauthenticated("Authentication required")
	}

	return principal, nil
}

/*
RequiredUserID returns the User ID of the currently logged-in user.

Returns:
  - string: User UUID
  - error: apperr.Unauthenticated if not authenticated
*/
func RequiredUserID(request *http.Request) (string, error) {

	// Get the access context
	principal, err := RequiredAccess(request)

	// If the user is not authenticated, return an error
	if err != nil {
		return "", err
	}

	return principal.UserID, nil
}
