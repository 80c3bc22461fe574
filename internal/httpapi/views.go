package httpapi

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strconv"

	"storefront/internal/cart"
	"storefront/internal/reconcile"
)

//go:embed templates/*.html
var templateFS embed.FS

const checkoutView = "checkout"

var pageTitles = map[string]string{
	string(reconcile.ViewSuccess): "Thanh toán thành công",
	string(reconcile.ViewFail):    "Thanh toán thất bại",
	string(reconcile.ViewError):   "Lỗi thanh toán",
	checkoutView:                  "Giỏ hàng",
}

type pageData struct {
	Title         string
	View          string
	OrderID       string
	Amount        int64
	TransactionID string
	Message       string
	ResponseCode  string
	Items         []cart.Item
	Total         int64
}

type views struct {
	pages map[string]*template.Template
}

func loadViews() (*views, error) {
	v := &views{pages: make(map[string]*template.Template, len(pageTitles))}
	for name := range pageTitles {
		t, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse view %s: %w", name, err)
		}
		v.pages[name] = t
	}
	return v, nil
}

func (v *views) render(w http.ResponseWriter, status int, data pageData) {
	t, ok := v.pages[data.View]
	if !ok {
		http.Error(w, "unknown view", http.StatusNotFound)
		return
	}
	data.Title = pageTitles[data.View]

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// terminalPage reads the navigation parameters back from the view query.
func terminalPage(view string, r *http.Request) pageData {
	q := r.URL.Query()
	data := pageData{
		View:          view,
		OrderID:       q.Get("orderId"),
		TransactionID: q.Get("transactionId"),
		Message:       q.Get("message"),
		ResponseCode:  q.Get("responseCode"),
	}
	if amount, err := strconv.ParseInt(q.Get("amount"), 10, 64); err == nil {
		data.Amount = amount
	}
	if view == string(reconcile.ViewError) && data.Message == "" {
		data.Message = reconcile.MessageOrderNotFound
	}
	return data
}
