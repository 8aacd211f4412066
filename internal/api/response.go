package api

// SuccessResponse wraps a single-resource payload.
type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Message string      `json:"message,omitempty"`
}

// ListResponse wraps a collection payload with its count, following the
// teacher's PaginatedResponse shape simplified to this service's
// cursor-free list endpoints.
type ListResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Count   int         `json:"count"`
}

func ok(data interface{}, message string) SuccessResponse {
	return SuccessResponse{Success: true, Data: data, Message: message}
}

func list(data interface{}, count int) ListResponse {
	return ListResponse{Success: true, Data: data, Count: count}
}
