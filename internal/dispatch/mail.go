package dispatch

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/synqronlabs/raven"

	"github.com/probekit/mailprobe/internal/validate"
)

const testSubject = "Email Delivery Test"

// buildTestMail builds the deliverability test message. The body carries a
// button labelled with a random 6-digit code linking to the sender's domain,
// so a recipient can confirm which domain variant reached the inbox.
func buildTestMail(from, to string) (*raven.Mail, error) {
	domain := validate.Domain(from)
	code := 100000 + rand.IntN(900000)
	html := fmt.Sprintf(`<a href="https://%s" target="_blank" style="display: inline-block; text-decoration: none; background-color: blue; color: white; padding: 10px 20px; border-radius: 4px; font-weight: bold;">%d</a>
<p style="font-size: 14px; color: #6c757d;">URL: https://%s</p>
<p>Timestamp: %s</p>
`, domain, code, domain, time.Now().UTC().Format("2006-01-02 15:04:05 UTC"))

	return raven.NewMailBuilder().
		From(from).
		To(to).
		Subject(testSubject).
		HTMLBody(html).
		Build()
}
