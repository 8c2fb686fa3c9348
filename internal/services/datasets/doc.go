// Package datasets marks a release version's data-set versions live through
// the data API.
//
// Responses are classified for the pipeline's retry policy: network failures,
// 429 and 5xx responses are transient; 404 is not-found; other 4xx responses
// are validation failures. A 409 means the data set is already live and is
// treated as success.
package datasets
