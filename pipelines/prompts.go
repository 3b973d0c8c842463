package pipelines

const (
	jokeTemplate = "tell me a short joke about {topic}"

	ragTemplate = "Answer the question:\n{context}\n\nQuestion: {question}\n"

	chatSystem   = "You're a helpful assistant"
	chatQuestion = "What is the purpose of model regularization?"

	translateSystem = "You are a helpful assistant that translates {input_language} to {output_language}."
	translateHuman  = "{text}"

	functionJokeTemplate = "tell a joke about {foo}"

	plannerTemplate   = "Generate a brief argument about: {input}"
	prosTemplate      = "List 3 pros or positive aspects of {base_response}"
	consTemplate      = "List 3 cons or negative aspects of {base_response}"
	reviewAI          = "Review your original response (below), and update it based upon the pros and cons.{original_response}"
	reviewHuman       = "Pros:\n{results_1}\n\nCons:\n{results_2}"
	reviewSystem      = "Generate a final response given the critique"
	actorTemplate     = "Answer the user query.\n{format_instructions}\n{query}\n"
	codeSystem        = "Based on this context:\n{context}"
	codeHuman         = "Fulfill this request:\n{request}"
	documentSeparator = "\n\n"
)
