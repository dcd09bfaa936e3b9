// Package http is the fetch surface: requests under the scope prefix are
// resolved to (bundle, app slug, relative path) and served out of the
// bundle's virtual filesystem, with the single-page-app index fallback and a
// diagnostic error page on failure. Plain service endpoints (root, health)
// live here too.
package http
