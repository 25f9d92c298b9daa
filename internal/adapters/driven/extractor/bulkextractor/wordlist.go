package bulkextractor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/custodia-labs/dfdewey/internal/core/domain"
)

// ParseWordlist reads wordlist records from r and sends them on records.
// Malformed lines are reported on errs wrapping domain.ErrMalformedRecord
// and parsing continues. The returned error is fatal.
func ParseWordlist(
	ctx context.Context,
	r io.Reader,
	records chan<- domain.ExtractedString,
	errs chan<- error,
) error {
	br := bufio.NewReaderSize(r, 256*1024)

	for lineNo := 1; ; lineNo++ {
		line, readErr := br.ReadString('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return fmt.Errorf("read wordlist: %w", readErr)
		}

		line = strings.TrimRight(line, "\r\n")
		if lineNo == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
		}

		if line != "" && !strings.HasPrefix(line, "#") {
			rec, err := ParseRecord(line)
			if err != nil {
				select {
				case errs <- fmt.Errorf("line %d: %w", lineNo, err):
				case <-ctx.Done():
					return ctx.Err()
				}
			} else {
				select {
				case records <- rec:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}

		if errors.Is(readErr, io.EOF) {
			return nil
		}
	}
}

// ParseRecord parses one wordlist line. The data may itself contain tabs.
func ParseRecord(line string) (domain.ExtractedString, error) {
	pos, data, ok := strings.Cut(line, "\t")
	if !ok {
		return domain.ExtractedString{}, fmt.Errorf("%w: missing tab separator", domain.ErrMalformedRecord)
	}

	offsetText, decodePath, decoded := strings.Cut(pos, "-")
	offset, err := strconv.ParseInt(offsetText, 10, 64)
	if err != nil || offset < 0 {
		return domain.ExtractedString{}, fmt.Errorf("%w: bad offset %q", domain.ErrMalformedRecord, pos)
	}

	rec := domain.ExtractedString{
		Offset:     offset,
		Data:       data,
		Provenance: domain.ProvenanceDirect,
	}
	if decoded {
		if decodePath == "" {
			return domain.ExtractedString{}, fmt.Errorf("%w: empty decode path %q", domain.ErrMalformedRecord, pos)
		}
		rec.DecodePath = decodePath
		rec.Provenance = provenance(decodePath)
	}
	return rec, nil
}

// provenance names the first decoder of a forensic path.
func provenance(decodePath string) domain.Provenance {
	decoder, _, _ := strings.Cut(decodePath, "-")
	switch strings.ToUpper(decoder) {
	case "BASE64":
		return domain.ProvenanceBase64
	case "GZIP":
		return domain.ProvenanceGzip
	case "ZIP":
		return domain.ProvenanceZip
	default:
		return domain.ProvenanceOther
	}
}
