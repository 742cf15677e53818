package engine

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/soyeahso/tally/internal/domain"
)

// Command is a recognized text command.
type Command string

const (
	CmdTotal   Command = "/total"
	CmdList    Command = "/list"
	CmdReset   Command = "/reset"
	CmdUnknown Command = ""
)

// Reply texts sent back to the conversation.
const (
	ReplyTotalPrefix   = "Total right now is: "
	ReplyEmptyList     = "No items in the list"
	ReplyListHeader    = "Listing your purchases:"
	ReplyResetDone     = "Reset done!"
	ReplyUnknown       = "Command not found, use: /total, /list or /reset"
	ReplyProcessing    = "Processing the image right now, I'll be back in a few!"
	ReplyBusy          = "I'm still working on your previous image, please wait until it's done."
	ReplyFailed        = "There was an error on this one, sorry :)"
	ReplyFinished      = "Process finished for this image"
	replySummaryFormat = "We have added this ticket with a total amount of '%s' with the following items:"
)

// ParseCommand recognizes /total, /list and /reset. Matching ignores case
// and surrounding whitespace, strips a "@botname" suffix and accepts a
// leading '!' in place of '/'.
func ParseCommand(text string) Command {
	word := strings.ToLower(strings.TrimSpace(text))
	if word == "" {
		return CmdUnknown
	}
	if word[0] == '!' {
		word = "/" + word[1:]
	}
	if i := strings.IndexByte(word, '@'); i > 0 {
		word = word[:i]
	}

	switch Command(word) {
	case CmdTotal, CmdList, CmdReset:
		return Command(word)
	default:
		return CmdUnknown
	}
}

// FormatAmount renders a decimal the way replies show it.
func FormatAmount(d decimal.Decimal) string {
	return d.String()
}

// FormatTotal renders the /total reply.
func FormatTotal(total decimal.Decimal) string {
	return ReplyTotalPrefix + FormatAmount(total)
}

// FormatList renders the /list reply: the header and one line per item,
// or the empty notice.
func FormatList(items []domain.LineItem) string {
	if len(items) == 0 {
		return ReplyEmptyList
	}
	var b strings.Builder
	b.WriteString(ReplyListHeader)
	writeItems(&b, items)
	return b.String()
}

// FormatSummary renders the reply sent after a receipt was committed.
func FormatSummary(receiptTotal decimal.Decimal, items []domain.LineItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, replySummaryFormat, FormatAmount(receiptTotal))
	writeItems(&b, items)
	return b.String()
}

func writeItems(b *strings.Builder, items []domain.LineItem) {
	for _, it := range items {
		b.WriteByte('\n')
		b.WriteString(it.Name)
		b.WriteString(" - ")
		b.WriteString(FormatAmount(it.Price))
	}
}
