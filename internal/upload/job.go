package upload

import (
	"path/filepath"
	"sort"
	"strings"
)

// JobStatus is the lifecycle state of one file upload
type JobStatus string

const (
	StatusNew              JobStatus = "new"
	StatusRegistered       JobStatus = "registered"
	StatusUploading        JobStatus = "uploading"
	StatusAllPartsUploaded JobStatus = "all_parts_uploaded"
	StatusCompleted        JobStatus = "completed"
	StatusPaused           JobStatus = "paused"
	StatusFailed           JobStatus = "failed"
)

// PartRecord is one part acknowledged by object storage
type PartRecord struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"eTag"`
	Size       int64  `json:"size"`
}

// Job is the in-memory state of one file upload. It is owned by a single run at a time.
type Job struct {
	FilePath       string
	SessionID      string
	FileID         string
	UploadID       string
	FileSize       int64
	PartSize       int64
	TotalParts     int
	NextPartNumber int
	SentBytes      int64
	Status         JobStatus

	parts map[int]PartRecord
}

func NewJob(path string, fileSize, partSize int64) *Job {
	plan := Plan(fileSize, partSize)
	return &Job{
		FilePath:       path,
		FileSize:       plan.FileSize,
		PartSize:       plan.PartSize,
		TotalParts:     plan.TotalParts,
		NextPartNumber: 1,
		Status:         StatusNew,
		parts:          make(map[int]PartRecord),
	}
}

func (j *Job) FileName() string {
	return filepath.Base(j.FilePath)
}

func (j *Job) Plan() PartPlan {
	return PartPlan{FileSize: j.FileSize, PartSize: j.PartSize, TotalParts: j.TotalParts}
}

func (j *Job) HasPart(n int) bool {
	_, ok := j.parts[n]
	return ok
}

func (j *Job) Part(n int) (PartRecord, bool) {
	p, ok := j.parts[n]
	return p, ok
}

func (j *Job) PartCount() int {
	return len(j.parts)
}

// AddPart records an acknowledged part, replacing any record with the same number
func (j *Job) AddPart(p PartRecord) {
	if j.parts == nil {
		j.parts = make(map[int]PartRecord)
	}
	j.parts[p.PartNumber] = p
	j.recompute()
}

// SetParts replaces the part set wholesale
func (j *Job) SetParts(parts []PartRecord) {
	j.parts = make(map[int]PartRecord, len(parts))
	for _, p := range parts {
		j.parts[p.PartNumber] = p
	}
	j.recompute()
}

// ResetRemote forgets the remote identity and every recorded part
func (j *Job) ResetRemote() {
	j.SessionID = ""
	j.FileID = ""
	j.UploadID = ""
	j.SetParts(nil)
	j.Status = StatusNew
}

// Parts returns the recorded parts sorted by part number
func (j *Job) Parts() []PartRecord {
	out := make([]PartRecord, 0, len(j.parts))
	for _, p := range j.parts {
		out = append(out, p)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].PartNumber < out[b].PartNumber })
	return out
}

// AllPartsUploaded reports whether every part in 1..TotalParts is recorded
func (j *Job) AllPartsUploaded() bool {
	for n := 1; n <= j.TotalParts; n++ {
		if !j.HasPart(n) {
			return false
		}
	}
	return true
}

func (j *Job) ProgressPercent() float64 {
	if j.FileSize <= 0 {
		if j.AllPartsUploaded() {
			return 100
		}
		return 0
	}
	pct := float64(j.SentBytes) / float64(j.FileSize) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

func (j *Job) recompute() {
	var sent int64
	maxPart := 0
	for n, p := range j.parts {
		sent += p.Size
		if n > maxPart {
			maxPart = n
		}
	}
	j.SentBytes = sent
	j.NextPartNumber = maxPart + 1
}

// NormalizeETag trims whitespace and removes one pair of surrounding double quotes.
// Values with quotes inside the pair are left as they are, which keeps the
// function idempotent.
func NormalizeETag(etag string) string {
	etag = strings.TrimSpace(etag)
	if len(etag) < 2 || etag[0] != '"' || etag[len(etag)-1] != '"' {
		return etag
	}
	inner := etag[1 : len(etag)-1]
	if strings.Contains(inner, `"`) {
		return etag
	}
	return inner
}
