package prompts

import "fmt"

// ContinuePrompt follows every tool observation.
const ContinuePrompt = "Use the observation above to continue. Call another tool if you still need information, " +
	"otherwise respond with FINAL_ANSWER: or DRAFT_FOR_APPROVAL:."

// CorrectivePrompt follows a response that neither called a tool nor
// answered.
const CorrectivePrompt = "You need to either:\n" +
	"1. Use a tool (respond with ACTION: tool_name and ACTION_INPUT: {...})\n" +
	"2. Provide a final answer (respond with FINAL_ANSWER: your answer)\n\n" +
	"Please choose one and respond in the correct format."

// ExhaustedReply is returned when the iteration budget runs out.
const ExhaustedReply = "I apologize, but I'm having trouble processing that request. " +
	"Could you please rephrase it or provide more specific details? For example:\n" +
	"- 'Search for emails from [person]'\n" +
	"- 'Help me draft an email to [person] about [topic]'\n" +
	"- 'What can you help me with?'"

// ApprovalReply acknowledges an approved draft.
const ApprovalReply = "Got it! I'll proceed with sending/saving this."

// ResetReply acknowledges a conversation reset.
const ResetReply = "Started a new conversation. How can I help you?"

// Observation formats a successful tool result.
func Observation(result string) string {
	return "OBSERVATION: " + result
}

// ObservationError formats a failed tool call.
func ObservationError(tool string, err error) string {
	return fmt.Sprintf("OBSERVATION: Error executing %s: %v", tool, err)
}

// DraftReply wraps a draft for the user's review.
func DraftReply(draft string) string {
	return "**Draft for your approval:**\n\n" + draft +
		"\n\n*Please review and let me know if you'd like any changes, or say 'send it' to proceed.*"
}

// FeedbackPrompt re-enters the loop with the user's notes on a draft.
func FeedbackPrompt(feedback string) string {
	return fmt.Sprintf("The user provided this feedback on the previous draft: %s. Please incorporate their feedback.", feedback)
}
