package upload

const (
	MiB = int64(1024 * 1024)

	// DefaultPartSize is used when no chunk size is configured
	DefaultPartSize = 5 * MiB

	// MinPartSize is the object-storage floor for every part but the last
	MinPartSize = 5 * MiB
)

// PartPlan splits a file into equally sized parts with a shorter last part
type PartPlan struct {
	FileSize   int64
	PartSize   int64
	TotalParts int
}

// Plan is pure arithmetic over the file size and the requested chunk size.
// A non-positive chunk size falls back to DefaultPartSize.
func Plan(fileSize, chunkBytes int64) PartPlan {
	if chunkBytes <= 0 {
		chunkBytes = DefaultPartSize
	}
	if fileSize < 0 {
		fileSize = 0
	}

	total := int(divideAndCeil(fileSize, chunkBytes))
	if total < 1 {
		total = 1
	}

	return PartPlan{
		FileSize:   fileSize,
		PartSize:   chunkBytes,
		TotalParts: total,
	}
}

// SizeOf returns the byte length of part n (1-based), 0 when n is out of range
func (p PartPlan) SizeOf(n int) int64 {
	if n < 1 || n > p.TotalParts {
		return 0
	}
	if n < p.TotalParts {
		return p.PartSize
	}
	return p.FileSize - p.PartSize*int64(p.TotalParts-1)
}

// Offset returns the file offset at which part n starts
func (p PartPlan) Offset(n int) int64 {
	if n < 1 {
		return 0
	}
	return p.PartSize * int64(n-1)
}

func divideAndCeil(a, b int64) int64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}
