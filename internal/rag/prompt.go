package rag

import "fmt"

const promptTemplate = `Based on the following context from the knowledge base:
%s

Now, answer the following question: %s`

// BuildPrompt interpolates the formatted context and the untouched query into
// the fixed instruction template.
func BuildPrompt(rc RetrievalContext, query string) string {
	return fmt.Sprintf(promptTemplate, rc.String(), query)
}
