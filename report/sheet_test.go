package report

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type capturePDF struct {
	html string
}

func (c *capturePDF) RenderHTML(ctx context.Context, html string) ([]byte, error) {
	c.html = html
	return []byte("%PDF"), nil
}

func serials(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("SN%05d", i+1)
	}
	return out
}

func TestSheetPaginatesLabels(t *testing.T) {
	r, err := NewSheetRenderer(&capturePDF{})
	require.NoError(t, err)

	html, err := r.HTML(Sheet{
		BatchNumber: "B-100",
		PartNumber:  "P-7",
		GeneratedAt: time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC),
		Serials:     serials(labelsPerRow*rowsPerPage + 1),
	})
	require.NoError(t, err)
	require.Equal(t, 2, strings.Count(html, `class="page"`))
	require.Equal(t, labelsPerRow*rowsPerPage+1, strings.Count(html, "data:image/png;base64,"))
	require.Contains(t, html, "Batch B-100")
	require.Contains(t, html, "Part P-7")
	require.Contains(t, html, "SN00025")
	require.Contains(t, html, "04 Mar 2026")
}

func TestSheetRenderConvertsHTML(t *testing.T) {
	client := &capturePDF{}
	r, err := NewSheetRenderer(client)
	require.NoError(t, err)

	pdf, err := r.Render(context.Background(), Sheet{BatchNumber: "B-1", Serials: []string{"ab12", "AB12"}})
	require.NoError(t, err)
	require.Equal(t, "%PDF", string(pdf))
	require.Contains(t, client.html, "ab12")
	require.Contains(t, client.html, "AB12")
}

func TestSheetRejectsEmptyAndUnprintable(t *testing.T) {
	r, err := NewSheetRenderer(&capturePDF{})
	require.NoError(t, err)

	_, err = r.Render(context.Background(), Sheet{BatchNumber: "B-1"})
	require.ErrorIs(t, err, ErrEmptySheet)

	_, err = r.Render(context.Background(), Sheet{BatchNumber: "B-1", Serials: []string{"序列"}})
	require.ErrorIs(t, err, ErrUnprintable)
}

func TestNewSheetRendererRequiresClient(t *testing.T) {
	_, err := NewSheetRenderer(nil)
	require.Error(t, err)
}
