package utils

import (
	"net/http"
	"time"
)

// Shared client for all outbound provider/notification calls.
var HTTPClient = &http.Client{
	Timeout: 30 * time.Second,
}
