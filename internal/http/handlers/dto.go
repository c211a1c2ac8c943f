package handlers

import "time"

type pointDTO struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type locationDTO struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Accuracy  float64   `json:"accuracy,omitempty"`
	Heading   float64   `json:"heading,omitempty"`
	Speed     float64   `json:"speed,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type driverDTO struct {
	ID                      string       `json:"id"`
	OnlineStatus            string       `json:"online_status"`
	Availability            string       `json:"availability"`
	Location                *locationDTO `json:"location,omitempty"`
	ActiveRequestID         string       `json:"active_request_id,omitempty"`
	TotalOffered            int64        `json:"total_offered"`
	TotalAccepted           int64        `json:"total_accepted"`
	CumulativeOnlineSeconds int64        `json:"cumulative_online_seconds"`
	UpdatedAt               time.Time    `json:"updated_at"`
}

type requestDTO struct {
	ID          string        `json:"id"`
	CustomerID  string        `json:"customer_id,omitempty"`
	Status      string        `json:"status"`
	Pickup      pointDTO      `json:"pickup"`
	Dropoff     pointDTO      `json:"dropoff"`
	DriverID    string        `json:"driver_id,omitempty"`
	Fare        int64         `json:"fare"`
	Trail       []locationDTO `json:"trail"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	AssignedAt  *time.Time    `json:"assigned_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

type offerDTO struct {
	RequestID  string    `json:"request_id"`
	DriverID   string    `json:"driver_id"`
	DistanceKm float64   `json:"distance_km"`
	ETAMinutes int       `json:"eta_minutes"`
	OfferedAt  time.Time `json:"offered_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type nearbyDTO struct {
	DriverID   string   `json:"driver_id"`
	Location   pointDTO `json:"location"`
	DistanceKm float64  `json:"distance_km"`
}

type etaDTO struct {
	RequestID  string    `json:"request_id"`
	Target     string    `json:"target"`
	From       pointDTO  `json:"from"`
	To         pointDTO  `json:"to"`
	DistanceKm float64   `json:"distance_km"`
	Minutes    int       `json:"minutes"`
	ComputedAt time.Time `json:"computed_at"`
}

type tripDTO struct {
	RequestID   string    `json:"request_id"`
	DriverID    string    `json:"driver_id"`
	Fare        int64     `json:"fare"`
	DistanceKm  float64   `json:"distance_km"`
	CompletedAt time.Time `json:"completed_at"`
	Rating      int       `json:"rating,omitempty"`
}

type windowDTO struct {
	Window     string         `json:"window"`
	Since      *time.Time     `json:"since,omitempty"`
	Earnings   int64          `json:"earnings"`
	DistanceKm float64        `json:"distance_km"`
	Trips      int            `json:"trips"`
	Ratings    map[string]int `json:"ratings"`
}

type statsDTO struct {
	DriverID       string      `json:"driver_id"`
	Windows        []windowDTO `json:"windows"`
	TotalOffered   int64       `json:"total_offered"`
	TotalAccepted  int64       `json:"total_accepted"`
	AcceptanceRate float64     `json:"acceptance_rate"`
	OnlineHours    float64     `json:"online_hours"`
	ComputedAt     time.Time   `json:"computed_at"`
}

type registerDriverRequest struct {
	ID string `json:"id"`
}

type onlineRequest struct {
	Online *bool `json:"online"`
}

type availabilityRequest struct {
	Available *bool `json:"available"`
}

type releaseRequest struct {
	OperatorID string `json:"operator_id"`
}

type submitRequest struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id"`
	Pickup     *pointDTO `json:"pickup"`
	Dropoff    *pointDTO `json:"dropoff"`
	Fare       int64     `json:"fare"`
}

type driverActionRequest struct {
	DriverID string `json:"driver_id"`
}

type advanceRequest struct {
	Status   string `json:"status"`
	DriverID string `json:"driver_id"`
}

type cancelRequest struct {
	ActorID string `json:"actor_id"`
}

type ratingRequest struct {
	Stars int `json:"stars"`
}
