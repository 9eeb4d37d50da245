package api

type ConcurrentUsage struct {
	UserID    string  `json:"user_id"`
	Date      string  `json:"date"`
	MaxCount  int     `json:"max_count"`
	MaxVCPU   int     `json:"max_vcpu"`
	MaxMemory float64 `json:"max_memory"`
}
