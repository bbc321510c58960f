package binary

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/sndnv/syn-storage/internal/bufpool"
	"github.com/sndnv/syn-storage/storage"
)

// formatIssue renders one diagnostic line through a pooled small
// buffer: each issue string is built once and immediately appended to
// a slice, never retained as a *bytes.Buffer itself.
func formatIssue(format string, args ...interface{}) string {
	buf := bufpool.SmallBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufpool.SmallBufferPool.Put(buf)
	fmt.Fprintf(buf, format, args...)
	return buf.String()
}

// occupiedRange is one entity's byte span within the body region,
// recomputed independently of the in-memory entities index while
// validating a file.
type occupiedRange struct {
	start uint32
	end   uint32
}

// Report is the result of checking invariant 1 (DDP accounting) and
// invariant 5 (free-list coalescing) against a single on-disk Disk
// Data Pool file.
type Report struct {
	Path string

	FileSize          uint64
	EntitiesCount     uint32
	SumEntitySizes    uint64
	SumEntityOverhead uint64
	TotalFree         uint64
	PoolOverhead      uint64
	AccountedTotal    uint64

	ExpectedFreeChunks int
	ActualFreeChunks   int

	Issues []string
}

// OK reports whether the file violated neither invariant.
func (r *Report) OK() bool { return len(r.Issues) == 0 }

// String renders a human-readable summary, built through a pooled
// strings.Builder since callers typically discard it immediately after
// logging or printing.
func (r *Report) String() string {
	sb := bufpool.GetStringBuilder()
	defer bufpool.PutStringBuilder(sb)

	fmt.Fprintf(sb, "%s: %d entities, file_size=%d accounted=%d (entities=%d overhead=%d free=%d pool_overhead=%d)",
		r.Path, r.EntitiesCount, r.FileSize, r.AccountedTotal, r.SumEntitySizes, r.SumEntityOverhead, r.TotalFree, r.PoolOverhead)
	if r.OK() {
		sb.WriteString("; invariants 1 and 5 hold")
		return sb.String()
	}
	fmt.Fprintf(sb, "; %d issue(s):", len(r.Issues))
	for _, issue := range r.Issues {
		fmt.Fprintf(sb, "\n  - %s", issue)
	}
	return sb.String()
}

// ValidateFile opens path read-only and checks invariant 1 ("DDP
// accounting": sum_entity_sizes + sum_entity_overheads + total_free +
// pool_overhead == file_size) and invariant 5 ("free-list coalescing":
// the free-space index tracks exactly as many chunks as there are
// maximal contiguous free intervals in the body region) against it.
//
// Rather than trusting the entities index Load already built, the
// entity chain is walked a second time directly against the file's raw
// bytes, so a bug in loadChain's own bookkeeping cannot hide a genuine
// accounting mismatch from this check.
func ValidateFile(path string) (*Report, error) {
	const op = "ValidateFile"

	p, err := Load(path, storage.ModeReadOnly)
	if err != nil {
		return nil, err
	}
	defer p.Close()

	p.mu.Lock()
	defer p.mu.Unlock()

	report := &Report{
		Path:         path,
		FileSize:     p.fileSize,
		PoolOverhead: uint64(PoolOverhead),
	}
	issues := bufpool.GetStringSlice()
	defer bufpool.PutStringSlice(issues)

	bodyLen := int64(p.footerAddr) - int64(bodyStart)
	raw := bufpool.GetLargeBuffer()
	defer bufpool.PutLargeBuffer(raw)
	if bodyLen > 0 {
		if _, err := io.CopyN(raw, io.NewSectionReader(p.file, int64(bodyStart), bodyLen), bodyLen); err != nil {
			return nil, storage.NewError(op, storage.KindIoError, err)
		}
	}
	body := raw.Bytes()

	var ranges []occupiedRange
	addr := p.footer.firstHeaderAddr
	for i := uint32(0); i < p.footer.entitiesCount; i++ {
		if addr < bodyStart {
			*issues = append(*issues, formatIssue("entity chain address %d precedes body start %d during independent walk", addr, bodyStart))
			break
		}
		off := uint64(addr - bodyStart)
		if off+EntityHeaderLen > uint64(len(body)) {
			*issues = append(*issues, formatIssue("entity chain address %d falls outside the body region during independent walk", addr))
			break
		}
		hdr, err := decodeEntityHeader(body[off : off+EntityHeaderLen])
		if err != nil {
			*issues = append(*issues, formatIssue("could not decode entity header at %d: %v", addr, err))
			break
		}

		ranges = append(ranges, occupiedRange{start: addr, end: addr + EntityHeaderLen + hdr.size})
		report.EntitiesCount++
		report.SumEntitySizes += uint64(hdr.size)
		report.SumEntityOverhead += uint64(EntityHeaderLen)
		addr = hdr.nextHeaderAddr
	}

	sort.Slice(ranges, func(i, j int) bool { return ranges[i].start < ranges[j].start })

	cursor := bodyStart
	freeChunks := 0
	var freeBytes uint64
	for _, rng := range ranges {
		if rng.start < cursor {
			*issues = append(*issues, formatIssue("entity range [%d,%d) overlaps a preceding entity ending at %d", rng.start, rng.end, cursor))
			continue
		}
		if rng.start > cursor {
			freeChunks++
			freeBytes += uint64(rng.start - cursor)
		}
		cursor = rng.end
	}
	if cursor < p.footerAddr {
		freeChunks++
		freeBytes += uint64(p.footerAddr - cursor)
	}

	report.TotalFree = p.free.totalFree()
	report.AccountedTotal = report.SumEntitySizes + report.SumEntityOverhead + report.TotalFree + report.PoolOverhead

	if report.AccountedTotal != report.FileSize {
		*issues = append(*issues, formatIssue("invariant 1 violated: sum_entity_sizes(%d) + sum_entity_overheads(%d) + total_free(%d) + pool_overhead(%d) = %d, want file_size %d",
			report.SumEntitySizes, report.SumEntityOverhead, report.TotalFree, report.PoolOverhead, report.AccountedTotal, report.FileSize))
	}
	if freeBytes != report.TotalFree {
		*issues = append(*issues, formatIssue("free bytes derived from the independent walk (%d) do not match the free-space index total (%d)", freeBytes, report.TotalFree))
	}

	report.ExpectedFreeChunks = freeChunks
	report.ActualFreeChunks = p.free.chunkCount()
	if report.ExpectedFreeChunks != report.ActualFreeChunks {
		*issues = append(*issues, formatIssue("invariant 5 violated: %d maximal free interval(s) found in [%d, %d), free-space index tracks %d",
			report.ExpectedFreeChunks, bodyStart, p.footerAddr, report.ActualFreeChunks))
	}

	report.Issues = append([]string(nil), (*issues)...)
	return report, nil
}
