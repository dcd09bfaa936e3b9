// Command server runs the bundle filesystem proxy: it serves bundle files
// under the scope prefix, speaks the page-client control protocol over
// /ws, and resumes the last-active bundle from the durable state cache on
// startup.
package main
