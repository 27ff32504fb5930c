package coding

import "strings"

// NoMatchMessage is the reply shown when a note evidences no code.
const NoMatchMessage = "Sorry. I dont understand.Please refine your prompt to give a proper clinical note. Thanks"

// FormatCodes renders codes the way the chat front end displays them.
func FormatCodes(codes []string) string {
	if len(codes) == 0 {
		return NoMatchMessage
	}
	return strings.Join(codes, " , ")
}
