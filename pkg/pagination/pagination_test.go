package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(target string) Params {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	return FromContext(e.NewContext(req, httptest.NewRecorder()))
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		wantLimit  int
		wantOffset int
	}{
		{"defaults", "/", DefaultLimit, 0},
		{"custom", "/?limit=50&offset=10", 50, 10},
		{"capped", "/?limit=500", MaxLimit, 0},
		{"negative offset", "/?offset=-5", DefaultLimit, 0},
		{"garbage", "/?limit=abc&offset=xyz", DefaultLimit, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := paramsFor(tt.target)
			if p.Limit != tt.wantLimit || p.Offset != tt.wantOffset {
				t.Errorf("got limit=%d offset=%d, want limit=%d offset=%d",
					p.Limit, p.Offset, tt.wantLimit, tt.wantOffset)
			}
		})
	}
}

func TestNewResponse(t *testing.T) {
	data := []string{"a", "b", "c"}
	if r := NewResponse(data, 10, 3, 0); !r.HasMore {
		t.Error("expected has_more when offset+limit < total")
	}
	if r := NewResponse(data, 3, 3, 0); r.HasMore {
		t.Error("expected no has_more when offset+limit >= total")
	}
}

func TestParams_HasNext(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		total  int
		want   bool
	}{
		{"more results", Params{Limit: 10, Offset: 0}, 25, true},
		{"exact end", Params{Limit: 10, Offset: 15}, 25, false},
		{"no results", Params{Limit: 10, Offset: 0}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.params.HasNext(tt.total); got != tt.want {
				t.Errorf("HasNext(%d) = %v, want %v", tt.total, got, tt.want)
			}
		})
	}
}

func TestPage(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	tests := []struct {
		name          string
		limit, offset int
		want          []int
	}{
		{"first page", 2, 0, []int{1, 2}},
		{"middle", 2, 2, []int{3, 4}},
		{"partial last", 2, 4, []int{5}},
		{"past end", 2, 9, nil},
		{"no limit", 0, 1, []int{2, 3, 4, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Page(items, tt.limit, tt.offset)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}
