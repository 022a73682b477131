package domain

// EnqueueTaskRequest represents the request body for queueing a download.
type EnqueueTaskRequest struct {
	URL         string            `json:"url" validate:"required,safe_url"`
	Destination string            `json:"destination" validate:"omitempty,max=255,safe_path"`
	Metadata    map[string]string `json:"metadata" validate:"omitempty,max=32,dive,keys,max=64,endkeys,max=1024"`
}

// EnqueueTaskResponse reports what happened to an enqueue request.
type EnqueueTaskResponse struct {
	Task              *QueueTask         `json:"task,omitempty"`
	Created           bool               `json:"created"`
	AlreadyDownloaded bool               `json:"already_downloaded"`
	Record            *FingerprintRecord `json:"record,omitempty"`
}

// StartScanRequest represents the request body for a directory backfill scan.
type StartScanRequest struct {
	Root string `json:"root" validate:"required,max=4096"`
}

// ScanStatus describes an asynchronous directory scan.
type ScanStatus struct {
	ID         string `json:"scan_id"`
	Root       string `json:"root"`
	Running    bool   `json:"running"`
	Files      int    `json:"files"`
	NewRecords int    `json:"new_records"`
	Failed     int    `json:"failed"`
	Error      string `json:"error,omitempty"`
}
