// Package issuepilot provides retrieval-augmented question answering over a
// GitHub repository's issue tracker, backed by Redis or an in-process store.
//
// Issues are split into overlapping chunks, embedded, and kept in an
// exact-scan vector index. Questions retrieve the best-matching chunks by
// cosine similarity and ground the generated answer in them, with citations
// back to the source issues. When nothing relevant is indexed, Ask returns a
// fixed fallback answer instead of calling the generation model.
//
//	client, _ := issuepilot.New(
//	    issuepilot.WithRedis("localhost:6379", ""),
//	    issuepilot.WithOpenAIEmbedder("https://api.openai.com/v1", key, "text-embedding-3-small"),
//	    issuepilot.WithOpenAIGenerator("https://api.openai.com/v1", key, "gpt-4o-mini"),
//	)
//	defer client.Close()
//
//	report, _ := client.IngestFile(ctx, "issues.ndjson")
//
//	matches, _ := client.Search("login fails on safari").K(5).State("open").Do(ctx)
//
//	answer, _ := client.Ask(ctx, "What do we know about Safari login problems?")
//	fmt.Println(answer.Text, answer.CitedIssueIDs)
//
// Custom embedding and generation providers plug in through the Embedder and
// Generator interfaces; see WithEmbedder and WithGenerator.
package issuepilot
