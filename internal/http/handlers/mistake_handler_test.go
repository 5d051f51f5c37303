package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/tbourn/homework-tutor-backend/internal/domain"
	"github.com/tbourn/homework-tutor-backend/internal/services"
)

func mistakeRouter(m MistakeService) http.Handler {
	r := newEngine()
	h := New(Deps{Mistakes: m})
	r.GET("/mistakes", h.ListMistakes)
	r.GET("/mistakes/due", h.DueMistakes)
	r.GET("/mistakes/:id", h.GetMistake)
	r.POST("/mistakes", h.CreateMistake)
	r.POST("/mistakes/:id/reviews", h.ReviewMistake)
	return r
}

func TestListMistakes(t *testing.T) {
	var got services.MistakeQuery
	m := stubMistakes{list: func(_ context.Context, _ string, q services.MistakeQuery) ([]domain.MistakeRecord, int64, error) {
		got = q
		if q.Source == "bogus" {
			return nil, 0, services.ErrInvalidSourceKind
		}
		return []domain.MistakeRecord{{ID: "m-1", Title: "第3题"}}, 1, nil
	}}
	r := mistakeRouter(m)

	w := doReq(r, http.MethodGet, "/mistakes?subject=math&mastered=false&source=homework&page_size=5", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got.Subject != "math" || got.Mastered == nil || *got.Mastered || got.Source != "homework" || got.PageSize != 5 {
		t.Fatalf("query = %+v", got)
	}
	var resp ListMistakesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || len(resp.Mistakes) != 1 || resp.Pagination.Total != 1 {
		t.Fatalf("body = %s err=%v", w.Body.String(), err)
	}

	if w = doReq(r, http.MethodGet, "/mistakes?mastered=maybe", nil, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad mastered expected 400, got %d", w.Code)
	}
	if w = doReq(r, http.MethodGet, "/mistakes?source=bogus", nil, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad source expected 400, got %d", w.Code)
	}

	doReq(r, http.MethodGet, "/mistakes", nil, nil)
	if got.Mastered != nil {
		t.Fatalf("mastered filter should be unset")
	}
}

func TestDueAndGetMistake(t *testing.T) {
	var gotLimit int
	m := stubMistakes{
		due: func(_ context.Context, _ string, limit int) ([]domain.MistakeRecord, error) {
			gotLimit = limit
			return []domain.MistakeRecord{}, nil
		},
		get: func(_ context.Context, _ string, id string) (*domain.MistakeRecord, error) {
			if id != "m-1" {
				return nil, services.ErrMistakeNotFound
			}
			return &domain.MistakeRecord{ID: id}, nil
		},
	}
	r := mistakeRouter(m)

	w := doReq(r, http.MethodGet, "/mistakes/due", nil, nil)
	if w.Code != http.StatusOK || gotLimit != 20 || w.Body.String() != "[]" {
		t.Fatalf("due: code=%d limit=%d body=%s", w.Code, gotLimit, w.Body.String())
	}
	doReq(r, http.MethodGet, "/mistakes/due?limit=5", nil, nil)
	if gotLimit != 5 {
		t.Fatalf("limit = %d", gotLimit)
	}
	doReq(r, http.MethodGet, "/mistakes/due?limit=500", nil, nil)
	if gotLimit != 50 {
		t.Fatalf("limit should cap at 50, got %d", gotLimit)
	}

	if w = doReq(r, http.MethodGet, "/mistakes/m-1", nil, nil); w.Code != http.StatusOK {
		t.Fatalf("get: %d", w.Code)
	}
	if w = doReq(r, http.MethodGet, "/mistakes/m-2", nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing expected 404, got %d", w.Code)
	}
}

func TestCreateMistake(t *testing.T) {
	var got services.ManualMistake
	m := stubMistakes{create: func(_ context.Context, _ string, in services.ManualMistake) (*domain.MistakeRecord, error) {
		got = in
		return &domain.MistakeRecord{ID: "m-9", Title: in.Title, SourceKind: domain.SourceManual}, nil
	}}
	r := mistakeRouter(m)

	body := `{"subject":"math","title":"分式方程漏检验","content":"忘记检验增根\r\n","knowledge_points":["分式方程"]}`
	w := doReq(r, http.MethodPost, "/mistakes", bytes.NewBufferString(body), nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d", w.Code)
	}
	if got.Content != "忘记检验增根" || got.Subject == nil || *got.Subject != "math" || len(got.KnowledgePoints) != 1 {
		t.Fatalf("input = %+v", got)
	}

	if w = doReq(r, http.MethodPost, "/mistakes", bytes.NewBufferString(`{"title":"x"}`), nil); w.Code != http.StatusBadRequest {
		t.Fatalf("missing content expected 400, got %d", w.Code)
	}
}

func TestReviewMistake(t *testing.T) {
	m := stubMistakes{review: func(_ context.Context, _, id, result string) (*services.ReviewOutcome, error) {
		if result != "correct" {
			return nil, services.ErrInvalidReviewResult
		}
		return &services.ReviewOutcome{
			Mistake: &domain.MistakeRecord{ID: id, ReviewCount: 1},
			Review:  &domain.MistakeReview{ID: "r-1", MistakeID: id, ReviewResult: domain.ReviewCorrect},
		}, nil
	}}
	r := mistakeRouter(m)

	w := doReq(r, http.MethodPost, "/mistakes/m-1/reviews", bytes.NewBufferString(`{"result":" correct "}`), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	var out services.ReviewOutcome
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil || out.Mistake.ReviewCount != 1 || out.Review.ID != "r-1" {
		t.Fatalf("body = %s err=%v", w.Body.String(), err)
	}

	if w = doReq(r, http.MethodPost, "/mistakes/m-1/reviews", bytes.NewBufferString(`{"result":"perfect"}`), nil); w.Code != http.StatusBadRequest {
		t.Fatalf("invalid result expected 400, got %d", w.Code)
	}
}
