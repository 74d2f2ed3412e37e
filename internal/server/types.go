package server

const (
	statusUp   = "up"
	statusDown = "down"
)

// HealthReport is the body of the health endpoint. Database carries the
// connection pool statistics.
type HealthReport struct {
	Status   string            `json:"status"`
	Database map[string]string `json:"database"`
	Cache    map[string]string `json:"cache"`
}
