package escalation

import (
	"fmt"
	"strings"
)

func emailSubject(c *Case) string {
	prefix := "Escalation"
	if c.Classification.Priority == PriorityHigh {
		prefix = "URGENT Escalation"
	}
	return fmt.Sprintf("%s: %s - Loan %s", prefix, c.ExceptionType, c.LoanApplicationID)
}

func emailBody(c *Case) string {
	var b strings.Builder
	fmt.Fprintf(&b, "An exception on loan application %s requires your attention.\n\n", c.LoanApplicationID)
	fmt.Fprintf(&b, "Escalation ID: %s\n", c.EscalationID)
	fmt.Fprintf(&b, "Exception type: %s\n", c.ExceptionType)
	fmt.Fprintf(&b, "Priority: %s\n", c.Classification.Priority)
	fmt.Fprintf(&b, "Reason: %s\n", c.Reason)
	fmt.Fprintf(&b, "Estimated resolution by: %s\n", c.EstimatedResolution.Format("Jan 2, 2006 3:04 PM MST"))
	if c.Classification.BlockingIssue {
		b.WriteString("\nThe workflow is blocked until this case is resolved.\n")
	}
	if len(c.RecommendedActions) > 0 {
		b.WriteString("\nRecommended actions:\n")
		for i, a := range c.RecommendedActions {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, a)
		}
	}
	return b.String()
}

func smsBody(c *Case) string {
	return fmt.Sprintf("URGENT: %s on loan %s requires immediate attention. Escalation %s.",
		c.ExceptionType, c.LoanApplicationID, c.EscalationID)
}

func chatBody(c *Case) string {
	return fmt.Sprintf("[%s] %s escalated for loan %s to %s: %s (%s)",
		c.Classification.Priority, c.ExceptionType, c.LoanApplicationID,
		c.Target.Type, c.Reason, c.EscalationID)
}
