// Package markup rewrites Kokonotsuba post markup into the HTML dialect vichan
// stores in posts.body, plus the plain-text body_nomarkup variant.
//
// The body is produced by an ordered list of rewrite rules. The order is part
// of the output format: backlink and quote rules are anchored at the start of
// the whole comment, so each one only fires if no earlier rule consumed it.
package markup

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ThreadResolver looks up the vichan thread id created for a koko thread.
type ThreadResolver interface {
	Resolve(sourceThreadID int64) (int64, bool)
}

// Context carries what the rules need to know about the post being rewritten.
type Context struct {
	// Board is the vichan board the post is migrated into.
	Board string
	// Resto is the koko thread the post replies to, <= 0 for thread roots.
	Resto int64
	// Threads resolves koko thread ids to vichan thread ids. May be nil.
	Threads ThreadResolver
}

// Rule is one rewrite step over HTML-escaped text.
type Rule struct {
	Name  string
	Apply func(text string, ctx *Context) string
}

var (
	lineBreakPattern  = regexp.MustCompile(`(?i)<br ?/>`)
	crossBoardPattern = regexp.MustCompile(`^&gt;&gt;&gt;/(\w+)/(\d*)`)
	backlinkPattern   = regexp.MustCompile(`^&gt;&gt;(\d+)`)
	greentextPattern  = regexp.MustCompile(`^&gt;(.*)$`)
	redtextPattern    = regexp.MustCompile(`^&lt;(.*)$`)
	urlPattern        = regexp.MustCompile(`(?i)\b(https?|)://[-A-Z0-9+&@#/%?=~_|!:,.;]*[-A-Z0-9+&@#/%=~_|]`)
)

// BodyRules run in order over the escaped plain text to build posts.body.
var BodyRules = []Rule{
	{Name: "cross-board-backlink", Apply: crossBoardBacklink},
	{Name: "backlink", Apply: backlink},
	{Name: "greentext", Apply: greentext},
	{Name: "redtext", Apply: redtext},
	{Name: "line-breaks", Apply: lineBreaks},
	{Name: "autolink", Apply: autolink},
}

// PlainText converts koko comment markup to the text stored in body_nomarkup.
func PlainText(com string) string {
	text := lineBreakPattern.ReplaceAllString(com, "\n")
	return UnescapeHTML(StripTags(text))
}

// Body returns the rewritten HTML body and its plain-text variant.
func Body(com string, ctx *Context) (body, plain string) {
	plain = PlainText(com)
	body = EscapeHTML(plain)
	for _, rule := range BodyRules {
		body = rule.Apply(body, ctx)
	}
	return body, plain
}

func crossBoardBacklink(text string, _ *Context) string {
	m := crossBoardPattern.FindStringSubmatchIndex(text)
	if m == nil {
		return text
	}
	board := text[m[2]:m[3]]
	post := text[m[4]:m[5]]

	var link string
	if post != "" {
		link = fmt.Sprintf(`<a href="/%s/res/%s.html#%s">&gt;&gt;&gt;/%s/%s</a>`, board, post, post, board, post)
	} else {
		link = fmt.Sprintf(`<a href="/%s/index.html">&gt;&gt;&gt;/%s/</a>`, board, board)
	}
	return link + text[m[1]:]
}

func backlink(text string, ctx *Context) string {
	m := backlinkPattern.FindStringSubmatchIndex(text)
	if m == nil {
		return text
	}
	post := text[m[2]:m[3]]

	thread := post
	if ctx != nil && ctx.Resto > 0 && ctx.Threads != nil {
		if id, ok := ctx.Threads.Resolve(ctx.Resto); ok {
			thread = strconv.FormatInt(id, 10)
		}
	}
	board := ""
	if ctx != nil {
		board = ctx.Board
	}

	link := fmt.Sprintf(`<a onclick="highlightReply('%s', event);" href="/%s/res/%s.html#%s">&gt;&gt;%s</a>`,
		post, board, thread, post, post)
	return link + text[m[1]:]
}

func greentext(text string, _ *Context) string {
	return greentextPattern.ReplaceAllString(text, `<span class="quote">&gt;${1}</span>`)
}

func redtext(text string, _ *Context) string {
	return redtextPattern.ReplaceAllString(text, `<span class="rquote">&lt;${1}</span>`)
}

func lineBreaks(text string, _ *Context) string {
	return strings.ReplaceAll(text, "\n", "<br/>")
}

func autolink(text string, _ *Context) string {
	return urlPattern.ReplaceAllStringFunc(text, func(url string) string {
		return fmt.Sprintf(`<a href="%s" target="_blank" rel="nofollow noreferrer">%s</a>`, EncodeURI(url), url)
	})
}
