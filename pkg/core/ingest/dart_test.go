package ingest

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"fact_reconciler/pkg/core/errs"
	"fact_reconciler/pkg/core/period"
)

func newTestDART(t *testing.T, handler http.HandlerFunc) *DARTClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewDARTClient("testkey", nil)
	c.baseURL = srv.URL
	return c
}

func corpZip(t *testing.T, xmlDoc string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("CORPCODE.xml")
	if err != nil {
		t.Fatalf("create zip entry: %v", err)
	}
	if _, err := w.Write([]byte(xmlDoc)); err != nil {
		t.Fatalf("write zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func TestFetchCorpRegistry(t *testing.T) {
	const doc = `<?xml version="1.0" encoding="UTF-8"?>
<result>
  <list><corp_code>00126380</corp_code><corp_name>삼성전자</corp_name><stock_code>005930</stock_code><modify_date>20240101</modify_date></list>
  <list><corp_code>00434003</corp_code><corp_name>비상장홀딩스</corp_name><stock_code> </stock_code><modify_date>20240101</modify_date></list>
</result>`
	c := newTestDART(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("crtfc_key"); got != "testkey" {
			t.Errorf("expected crtfc_key=testkey, got %q", got)
		}
		w.Write(corpZip(t, doc))
	})

	reg, err := c.FetchCorpRegistry(context.Background())
	if err != nil {
		t.Fatalf("FetchCorpRegistry failed: %v", err)
	}

	entry, ok := reg.ByCode("005930")
	if !ok {
		t.Fatal("expected symbol 005930 in registry")
	}
	if entry.Name != "삼성전자" {
		t.Errorf("expected 삼성전자, got %q", entry.Name)
	}
	if entry.SecondaryCode != "00126380" {
		t.Errorf("expected corp code 00126380, got %q", entry.SecondaryCode)
	}

	// Unlisted filers keep their corp code but have no symbol.
	unlisted, ok := reg.ByID("00434003")
	if !ok {
		t.Fatal("expected unlisted corp code 00434003 in registry")
	}
	if unlisted.PrimaryCode != "" {
		t.Errorf("expected blank symbol for unlisted filer, got %q", unlisted.PrimaryCode)
	}
}

func TestFetchCorpRegistryErrorPayload(t *testing.T) {
	// A bad key yields a JSON error body instead of a zip.
	c := newTestDART(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"010","message":"등록되지 않은 키입니다."}`))
	})

	_, err := c.FetchCorpRegistry(context.Background())
	var statusErr *errs.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.Code != "010" {
		t.Errorf("expected code 010, got %q", statusErr.Code)
	}
}

func TestFetchSummaryAccounts(t *testing.T) {
	c := newTestDART(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("corp_code") != "00126380" || q.Get("bsns_year") != "2023" || q.Get("reprt_code") != "11011" {
			t.Errorf("unexpected query: %v", q)
		}
		w.Write([]byte(`{"status":"000","message":"정상","list":[
			{"account_nm":"매출액","thstrm_amount":"258,935,494,000,000","thstrm_add_amount":""},
			{"account_nm":"영업이익","thstrm_amount":"","thstrm_add_amount":"6,566,976,000,000"}
		]}`))
	})

	items, err := c.FetchSummaryAccounts(context.Background(), "00126380", 2023, period.ReportAnnual)
	if err != nil {
		t.Fatalf("FetchSummaryAccounts failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].AccountLabel != "매출액" || items[0].Amount != "258,935,494,000,000" {
		t.Errorf("unexpected first item: %+v", items[0])
	}
	if items[1].AddAmount != "6,566,976,000,000" {
		t.Errorf("expected cumulative amount on second item, got %+v", items[1])
	}
}

func TestFetchSummaryAccountsNoData(t *testing.T) {
	c := newTestDART(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"013","message":"조회된 데이타가 없습니다."}`))
	})

	_, err := c.FetchSummaryAccounts(context.Background(), "00126380", 2024, period.ReportQ1)
	if !errors.Is(err, errs.ErrEmptyResult) {
		t.Fatalf("expected ErrEmptyResult for status 013, got %v", err)
	}
}

func TestFetchStatementAccountsSendsConsolidatedFlag(t *testing.T) {
	c := newTestDART(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("fs_div"); got != "CFS" {
			t.Errorf("expected fs_div=CFS, got %q", got)
		}
		w.Write([]byte(`{"status":"000","message":"정상","list":[
			{"account_nm":"현금및현금성자산","thstrm_amount":"53,705,579,000,000"}
		]}`))
	})

	items, err := c.FetchStatementAccounts(context.Background(), "00126380", 2023, period.ReportAnnual)
	if err != nil {
		t.Fatalf("FetchStatementAccounts failed: %v", err)
	}
	if len(items) != 1 || items[0].AccountLabel != "현금및현금성자산" {
		t.Errorf("unexpected items: %+v", items)
	}
}

func TestFetchStockTotals(t *testing.T) {
	c := newTestDART(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"000","message":"정상","list":[
			{"se":"보통주","distb_stock_co":"5,969,782,550","now_to_isu_stock_totqy":"5,969,782,550","now_to_dcrs_stock_totqy":"0","tesstk_co":"0","istc_totqy":"5,969,782,550"},
			{"se":"우선주","distb_stock_co":"822,886,700","now_to_isu_stock_totqy":"822,886,700","now_to_dcrs_stock_totqy":"0","tesstk_co":"0","istc_totqy":"822,886,700"}
		]}`))
	})

	rows, err := c.FetchStockTotals(context.Background(), "00126380", 2023, period.ReportAnnual)
	if err != nil {
		t.Fatalf("FetchStockTotals failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Class != "보통주" || rows[0].DistributedShares != "5,969,782,550" {
		t.Errorf("unexpected first row: %+v", rows[0])
	}
}

func TestDARTMissingKey(t *testing.T) {
	c := NewDARTClient("", nil)
	_, err := c.FetchSummaryAccounts(context.Background(), "00126380", 2023, period.ReportAnnual)
	if !errors.Is(err, errs.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration without an API key, got %v", err)
	}
}
