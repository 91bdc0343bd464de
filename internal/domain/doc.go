// Package domain models NYC 311 service requests, Open-Meteo daily weather
// observations, and the star schema built from both.
//
// # Data Sources
//
// Service requests come from the NYC Open Data Socrata resource erm2-nwe9.
// Every field arrives as text; timestamps are floating ISO-8601 values such as
// "2025-09-25T01:44:42.000" with no zone. Weather comes from the Open-Meteo
// archive daily endpoint, queried once per borough centroid.
//
// # Incremental Merge
//
// The accumulated incident dataset is keyed by unique_key. Re-fetched records
// only update the slowly-changing columns (created, closed and resolution
// update timestamps), and only with non-null values. See [Merger.Merge].
//
// # Normalization
//
// Categorical text is cleaned in a fixed order: coercion, whitespace, the
// relevant-complaint filter, dedup, exact and fuzzy mapping, zip truncation,
// casing, and the "missing" sentinel. See [Normalizer].
//
// Zip codes:
//
//	"1002"      -> null   (shorter than five characters)
//	"100231234" -> "10023"
//
// Fuzzy matching scores values with an Indel ratio on a 0-100 scale:
//
//	ratio = 100 * 2 * LCS(a, b) / (len(a) + len(b))
//
// # Star Schema
//
// Five dimensions (date, borough, location, agency, complaint_type) and three
// facts (incidents, weather, daily_summary). Surrogate keys come from a
// [KeyRegistry], which only ever appends, so a natural key keeps its key
// across builds when the registry is persisted.
package domain
