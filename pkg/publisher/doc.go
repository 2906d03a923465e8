// Package publisher delivers queued jobs to the public highlights service.
//
// HTTPPublisher implements core.Publisher. Upsert jobs are posted to
// /api/public-highlights/upsert and delete jobs to
// /api/public-highlights/delete, with payload_json as the request body.
//
// HighlightRequest and DeleteRequest build and validate those payloads
// before they are queued.
package publisher
