package models

type HealthResponse struct {
	Status  string            `json:"status"`
	Workers map[string]string `json:"workers"`
}
