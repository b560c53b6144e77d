package httpapi

// Request/response DTOs for the endpoints in spec §6. Field names follow
// the wire contract in the spec table exactly.

type registerClientRequest struct {
	ClientID string `json:"client_id" binding:"required"`
	Project  string `json:"project"`
	PID      int    `json:"pid,omitempty"`
}

type registerClientResponse struct {
	OK           bool   `json:"ok"`
	ClientID     string `json:"client_id"`
	RegisteredAt int64  `json:"registered_at"`
	TotalClients int    `json:"total_clients"`
}

type deregisterClientRequest struct {
	ClientID string `json:"client_id" binding:"required"`
}

type deregisterClientResponse struct {
	OK            bool   `json:"ok"`
	ClientID      string `json:"client_id"`
	WasRegistered bool   `json:"was_registered"`
	TotalClients  int    `json:"total_clients"`
}

type embedOptions struct {
	RequestID string `json:"request_id"`
}

type embedRequest struct {
	// Texts intentionally has no "required" binding tag: spec §8's boundary
	// behavior requires texts=[] to succeed with an empty response and no
	// worker dispatch, but go-playground/validator's "required" rejects a
	// zero-length slice just like a missing field would.
	Texts   []string     `json:"texts"`
	Options embedOptions `json:"options"`
}

type performance struct {
	CacheHits   int   `json:"cache_hits"`
	CacheMisses int   `json:"cache_misses"`
	BatchesSent int   `json:"batches_sent"`
	Retries     int   `json:"retries"`
	ElapsedMS   int64 `json:"elapsed_ms"`
}

type embedMetadata struct {
	RequestID string `json:"request_id,omitempty"`
	ModelID   string `json:"model_id"`
	Dim       int    `json:"dim"`
}

type embedResponse struct {
	Embeddings  [][]float32   `json:"embeddings"`
	Metadata    embedMetadata `json:"metadata"`
	Performance performance   `json:"performance"`
}

type healthResponse struct {
	Status    string `json:"status"`
	UptimeMS  int64  `json:"uptime_ms"`
	PoolReady bool   `json:"pool_ready"`
}

type statusResponse struct {
	Status         string  `json:"status"`
	UptimeMS       int64   `json:"uptime_ms"`
	PoolReady      bool    `json:"pool_ready"`
	WorkerCount    int     `json:"worker_count"`
	QueueDepth     int     `json:"queue_depth"`
	CacheLiveCount uint64  `json:"cache_live_count"`
	CacheCapacity  uint64  `json:"cache_capacity"`
	TotalClients   int     `json:"total_clients"`
	ShutdownState  string  `json:"shutdown_state"`
	ModelID        string  `json:"model_id"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string   `json:"kind"`
	Message string   `json:"message"`
	Detail  []int    `json:"detail,omitempty"`
}
