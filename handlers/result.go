package handlers

import (
	"net/http"
)

type Handler func(http.ResponseWriter, *http.Request) Result

type Result struct {
	Code int
	Body interface{}
}

func Ok(body interface{}) Result {
	return Result{
		Code: http.StatusOK,
		Body: body,
	}
}

func Unavailable(body interface{}) Result {
	return Result{
		Code: http.StatusServiceUnavailable,
		Body: body,
	}
}
