package services

import (
	"fmt"
	"strings"
)

const textSystemPrompt = "너는 JSON 변환기 역할을 한다."

const refineSystemPrompt = "너는 JSON 보정 전문가야."

const textPromptTemplate = `다음은 플리마켓 홍보 게시글이다. 게시글에서 행사 정보를 추출해 아래 JSON 형식으로만 답하라.

{
  "market_name": "행사 이름",
  "place": "장소 (주소 또는 장소명)",
  "sessions": [
    {"start_date": "YYYY-MM-DD", "end_date": "YYYY-MM-DD", "start_time": "HH:MM", "end_time": "HH:MM", "notes": "회차별 참고 사항"}
  ]
}

규칙:
- 날짜가 여러 번 열리면 회차마다 sessions 항목을 하나씩 만든다.
- 연도가 없는 날짜는 게시글 작성일(%s) 이후 가장 가까운 날짜로 해석한다.
- 시간은 24시간제 HH:MM 으로 쓴다. 오후 1시는 13:00 이다.
- 크롤링 단계에서 찾은 장소 후보: "%s". 본문과 다르면 본문을 우선한다.
- 알 수 없는 값은 빈 문자열 ""로 둔다. %s 같은 표현은 절대 쓰지 않는다.
- JSON 외의 설명은 쓰지 않는다.

게시글 URL: %s
게시글 본문:
%s`

const imagePromptTemplate = `이 이미지는 플리마켓 홍보 포스터다. 포스터에 적힌 장소, 날짜, 시간을 읽어 아래 JSON 형식으로만 답하라.

{"place": "장소", "date_info": "포스터에 적힌 날짜 그대로", "time_info": "포스터에 적힌 시간 그대로"}

알 수 없는 값은 빈 문자열 ""로 둔다. %s 같은 표현은 절대 쓰지 않는다.`

const refinePromptTemplate = `아래는 플리마켓 행사의 현재 정보와 포스터 이미지에서 읽은 날짜/시간이다.
이 정보를 바탕으로 sessions 배열을 다시 만들어 JSON 으로만 답하라.

행사 이름: %s
장소: %s
게시글 URL: %s
포스터 날짜: %s
포스터 시간: %s

형식:
{"sessions": [{"start_date": "YYYY-MM-DD", "end_date": "YYYY-MM-DD", "start_time": "HH:MM", "end_time": "HH:MM", "notes": ""}]}

알 수 없는 값은 빈 문자열 ""로 둔다. %s 같은 표현은 절대 쓰지 않는다.`

// maxPromptTextRunes bounds the post body sent to the completion service.
const maxPromptTextRunes = 6000

func buildTextPrompt(rawText, url, originalPlace, postDate string, forbidden []string) string {
	if postDate == "" {
		postDate = "알 수 없음"
	}
	return fmt.Sprintf(textPromptTemplate, postDate, originalPlace, quoteTokens(forbidden), url, truncateRunes(rawText, maxPromptTextRunes))
}

func buildImagePrompt(forbidden []string) string {
	return fmt.Sprintf(imagePromptTemplate, quoteTokens(forbidden))
}

func buildRefinePrompt(marketName, place, url, dateInfo, timeInfo string, forbidden []string) string {
	return fmt.Sprintf(refinePromptTemplate, marketName, place, url, dateInfo, timeInfo, quoteTokens(forbidden))
}

func quoteTokens(tokens []string) string {
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = `"` + t + `"`
	}
	return strings.Join(quoted, ", ")
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
