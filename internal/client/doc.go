// Package client is a Go client for the wrap-gateway HTTP API.
//
// # Overview
//
// The client wraps the /v1 routes used by operators and tooling:
//
//   - Execute: run the execute flow for an action record
//   - CreateAction, GetAction, ListActions, ApproveAction
//   - ListReceipts, ListMessages, ListAudit
//   - Render, GetContentJob, ListContentJobs
//   - GetPolicy, PutPolicy, GetMode, SetMode
//   - PutCredential, DeleteCredential
//   - Health
//
// Request and response bodies reuse the JSON views from the api package, so
// a field added to the server shows up here without a second definition.
//
// # Errors
//
// Any status of 400 or above is returned as *APIError carrying the status
// code and the server's error message:
//
//	var apiErr *client.APIError
//	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
//	    // the action is already executing
//	}
//
// # Usage
//
//	c := client.New("http://localhost:8080", token)
//	res, err := c.Execute(ctx, actionID)
package client
