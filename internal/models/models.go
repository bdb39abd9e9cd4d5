// Package models provides API response helpers, pagination and caller
// identity for the order API.
package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

const (
	DefaultPageLimit = 25
	MaxPageLimit     = 100
)

// APIResponse builds a standard API Gateway Lambda proxy response with CORS headers.
func APIResponse(statusCode int, body any) (events.APIGatewayProxyResponse, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return events.APIGatewayProxyResponse{
			StatusCode: 500,
			Headers:    corsHeaders(),
			Body:       fmt.Sprintf(`{"error":"json marshal: %s"}`, err.Error()),
		}, nil
	}

	return events.APIGatewayProxyResponse{
		StatusCode: statusCode,
		Headers:    corsHeaders(),
		Body:       string(b),
	}, nil
}

// ErrorBody is the payload of every non-2xx response.
type ErrorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// ErrorResponse builds an error response.
func ErrorResponse(statusCode int, code, msg string) (events.APIGatewayProxyResponse, error) {
	return APIResponse(statusCode, ErrorBody{Error: msg, Code: code})
}

func corsHeaders() map[string]string {
	return map[string]string{
		"Content-Type":                 "application/json",
		"Access-Control-Allow-Origin":  "*",
		"Access-Control-Allow-Headers": "Content-Type,Authorization,X-User-Id,X-User-Role",
	}
}

// Pagination holds pagination metadata for list responses.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// NewPagination creates a Pagination from total count, page, and limit.
func NewPagination(total, page, limit int) Pagination {
	totalPages := 1
	if limit > 0 {
		totalPages = int(math.Ceil(float64(total) / float64(limit)))
		if totalPages < 1 {
			totalPages = 1
		}
	}
	return Pagination{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages,
	}
}

// QueryParams holds parsed pagination and filter parameters from a request.
type QueryParams struct {
	Params map[string]string
	Page   int
	Limit  int
	Offset int
}

// ParseQueryParams extracts pagination parameters from an API Gateway event.
func ParseQueryParams(event events.APIGatewayProxyRequest) QueryParams {
	params := event.QueryStringParameters
	if params == nil {
		params = map[string]string{}
	}

	limit := DefaultPageLimit
	if v, ok := params["limit"]; ok {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}

	page := 1
	if v, ok := params["page"]; ok {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 1 {
			page = parsed
		}
	}

	return QueryParams{
		Params: params,
		Page:   page,
		Limit:  limit,
		Offset: (page - 1) * limit,
	}
}

// Caller identifies who is acting on a request.
type Caller struct {
	UserID string
	Role   string
}

// IsAdmin reports whether the caller may run admin operations.
func (c Caller) IsAdmin() bool {
	return strings.EqualFold(c.Role, "admin")
}

// CallerFromRequest reads the caller from authorizer claims (Cognito style
// "sub" and "custom:role"), falling back to the X-User-Id / X-User-Role
// headers set by the internal gateway.
func CallerFromRequest(event events.APIGatewayProxyRequest) Caller {
	var c Caller
	if claims, ok := event.RequestContext.Authorizer["claims"].(map[string]any); ok {
		c.UserID, _ = claims["sub"].(string)
		c.Role, _ = claims["custom:role"].(string)
	}
	if c.UserID == "" {
		c.UserID = header(event.Headers, "X-User-Id")
	}
	if c.Role == "" {
		c.Role = header(event.Headers, "X-User-Role")
	}
	return c
}

func header(h map[string]string, name string) string {
	for k, v := range h {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
