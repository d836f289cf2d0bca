package notify

import (
	"fmt"
	"strings"

	"github.com/dmitrijs2005/mailvault/internal/server/models"
)

func usageLines(b *strings.Builder, u models.UsageSummary) {
	fmt.Fprintf(b, "\nUsage for %s:\n", u.PeriodStart.Format("January 2006"))
	fmt.Fprintf(b, "  items archived: %d\n", u.Items)
	fmt.Fprintf(b, "  free items left: %d of %d\n", u.Remaining(), u.FreeItems)
	fmt.Fprintf(b, "  stored: %s\n", formatSize(u.Bytes))
	if u.Billed {
		fmt.Fprintf(b, "  charges this month: $%d.%02d\n", u.CostCents/100, u.CostCents%100)
	}
}

func confirmationBody(archiveRef, subject string, u models.UsageSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your message %q has been archived.\n\n", subject)
	fmt.Fprintf(&b, "Archive reference: %s\n", archiveRef)
	usageLines(&b, u)
	return b.String()
}

func welcomeBody(vaultID, shareKey string, u models.UsageSummary) string {
	var b strings.Builder
	b.WriteString("A private vault has been created for your archived mail.\n\n")
	fmt.Fprintf(&b, "Vault: %s\n", vaultID)
	fmt.Fprintf(&b, "Access key: %s\n\n", shareKey)
	b.WriteString("Keep the access key safe. It is the only way to open the vault.\n")
	usageLines(&b, u)
	return b.String()
}

func quotaBody(reason string, u models.UsageSummary) string {
	var b strings.Builder
	b.WriteString("Your message was not archived.\n\n")
	fmt.Fprintf(&b, "Reason: %s\n", reason)
	usageLines(&b, u)
	return b.String()
}

func failureBody(subject, errMsg string, attempts int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "We could not archive your message %q.\n\n", subject)
	fmt.Fprintf(&b, "Error: %s\n", errMsg)
	fmt.Fprintf(&b, "Attempts: %d\n", attempts)
	return b.String()
}

func formatSize(bytes int64) string {
	switch {
	case bytes >= 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(bytes)/(1024*1024))
	case bytes >= 1024:
		return fmt.Sprintf("%.1f KB", float64(bytes)/1024)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
