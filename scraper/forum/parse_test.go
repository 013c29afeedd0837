package forum

import (
	"errors"
	"net/url"
	"strings"
	"testing"
)

const listFixture = `<html><body><div class="row">
<div class="col-xs-6 col-sm-3 col-md-3 item">
  <a href="/forum/view/101"><img src="/img/101.jpg"></a>
  <div class="tpl-forum-list-title"> 홍대 플리마켓 </div>
</div>
<div class="col-xs-6 col-sm-3 col-md-3 item">
  <a href="https://cdn.example.com/forum/view/102"><img src="https://cdn.example.com/102.png"></a>
  <div class="tpl-forum-list-title">성수 주말 마켓</div>
</div>
<div class="col-xs-6 col-sm-3 col-md-3 item">
  <a href="/forum/view/103"></a>
  <div class="tpl-forum-list-title"></div>
</div>
<div class="col-xs-6 col-sm-3 col-md-3 item">
  <div class="tpl-forum-list-title">링크 없는 카드</div>
</div>
<div class="col-xs-6 item"><a href="/forum/view/999">sidebar</a></div>
</div></body></html>`

func TestParseList(t *testing.T) {
	base, _ := url.Parse("https://forum.example.com/")
	entries, err := ParseList(listFixture, base)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries; want 2: %+v", len(entries), entries)
	}

	first := entries[0]
	if first.Title != "홍대 플리마켓" {
		t.Errorf("Title = %q", first.Title)
	}
	if first.Link != "https://forum.example.com/forum/view/101" {
		t.Errorf("Link = %q", first.Link)
	}
	if first.ImageURL != "https://forum.example.com/img/101.jpg" {
		t.Errorf("ImageURL = %q", first.ImageURL)
	}
	if entries[1].Link != "https://cdn.example.com/forum/view/102" {
		t.Errorf("absolute link rewritten: %q", entries[1].Link)
	}
}

func TestParseListNoCards(t *testing.T) {
	entries, err := ParseList(`<html><body><p>loading...</p></body></html>`, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("got %d entries; want 0", len(entries))
	}
}

func TestPageURL(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{1, "https://forum.example.com/"},
		{2, "https://forum.example.com/?page=2"},
		{10, "https://forum.example.com/?page=10"},
	}
	for _, tt := range tests {
		if got := PageURL("https://forum.example.com/", tt.n); got != tt.want {
			t.Errorf("PageURL(%d) = %q; want %q", tt.n, got, tt.want)
		}
	}
}

const detailFixture = `<html><head><title>홍대 플리마켓 10월 일정</title></head><body>
<span class="tpl-forum-date">2025. 10. 2 14:03</span>
<div class="fr-element fr-view">
  <p>▶ 프리마켓명: 홍대 가을 플리마켓</p>
  <p>▶ 날짜: 10월 18일(토) 13:00~18:00</p>
  <p>▶ 장소: 홍대 걷고싶은거리</p>
  <p><img src="/upload/poster.jpg"></p>
  <script>var x = 1;</script>
</div>
</body></html>`

func TestParseDetail(t *testing.T) {
	post, err := ParseDetail(detailFixture, "https://forum.example.com/forum/view/101")
	if err != nil {
		t.Fatal(err)
	}

	if post.Title != "홍대 플리마켓 10월 일정" {
		t.Errorf("Title = %q", post.Title)
	}
	if post.PostDate != "2025-10-02" {
		t.Errorf("PostDate = %q", post.PostDate)
	}
	if post.ImageURL != "https://forum.example.com/upload/poster.jpg" {
		t.Errorf("ImageURL = %q", post.ImageURL)
	}
	wantText := "▶ 프리마켓명: 홍대 가을 플리마켓\n▶ 날짜: 10월 18일(토) 13:00~18:00\n▶ 장소: 홍대 걷고싶은거리"
	if post.RawText != wantText {
		t.Errorf("RawText = %q; want %q", post.RawText, wantText)
	}
	if post.MarketName != "" || post.Place != "" {
		t.Error("candidate fields must be left for the extractor")
	}
}

func TestParseDetailSelectorOrder(t *testing.T) {
	html := `<html><body><h1>제목</h1>
<article>article body</article>
<div class="post-content">post content body</div>
</body></html>`
	post, err := ParseDetail(html, "https://forum.example.com/p/1")
	if err != nil {
		t.Fatal(err)
	}
	if post.RawText != "post content body" {
		t.Errorf("RawText = %q; want .post-content before article", post.RawText)
	}
	if post.Title != "제목" {
		t.Errorf("Title = %q; want h1 fallback", post.Title)
	}
}

func TestParseDetailReadabilityFallback(t *testing.T) {
	para := strings.Repeat("마포구 망원동에서 열리는 주말 플리마켓 안내입니다. 수공예품과 빈티지 의류를 판매합니다. ", 8)
	html := `<html><head><title>망원 마켓</title></head><body>
<nav>menu</nav>
<div id="main"><p>` + para + `</p><p>` + para + `</p></div>
</body></html>`

	post, err := ParseDetail(html, "https://forum.example.com/p/2")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(post.RawText, "망원동") {
		t.Errorf("RawText = %q", post.RawText)
	}
}

func TestParseDetailEmptyBody(t *testing.T) {
	_, err := ParseDetail(`<html><body><div class="fr-element fr-view">  </div></body></html>`, "https://forum.example.com/p/3")
	if !errors.Is(err, ErrNoContent) {
		t.Errorf("err = %v; want ErrNoContent", err)
	}
}
