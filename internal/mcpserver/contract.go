package mcpserver

// EventFormatContract describes how margin annotations map onto Nostr
// events, for LLM consumers that publish or interpret them.
const EventFormatContract = `# Margin Event Format

Margin stores web annotations as signed Nostr events. Three shapes exist.

## Highlight (kind 9802)

A quoted passage of a web page.

- ` + "`" + `content` + "`" + `: the exact quoted text.
- ` + "`" + `["r", <page URL>]` + "`" + `: the page the quote comes from.
- ` + "`" + `["t", <hashtag>]` + "`" + `: zero or more hashtags.
- Selector tags anchor the quote in the page:
  - ` + "`" + `["textquoteselector", exact, prefix?, suffix?]` + "`" + `
  - ` + "`" + `["textpositionselector", start, end]` + "`" + `
  - ` + "`" + `["rangeselector", startContainer, endContainer, startOffset?, endOffset?]` + "`" + `

A highlight has exactly one text quote selector.

## Page note (kind 1111)

A comment about a whole page.

- ` + "`" + `["I", <normalized URL>]` + "`" + ` and ` + "`" + `["K", <scheme>]` + "`" + `: the root anchor.
  The normalized URL drops the scheme, the fragment, default ports and
  trailing slashes: ` + "`" + `https://Example.com/a/#x` + "`" + ` becomes ` + "`" + `example.com/a` + "`" + `.
- ` + "`" + `["i", ...]` + "`" + ` and ` + "`" + `["k", ...]` + "`" + `: the same values as the parent anchor.
- ` + "`" + `["document_title", <title>]` + "`" + `: optional page title.

A reply to a page note keeps ` + "`" + `I` + "`" + `/` + "`" + `K` + "`" + ` and points ` + "`" + `e` + "`" + `/` + "`" + `k` + "`" + `/` + "`" + `p` + "`" + ` at the note replied to.

## Thread reply (kind 1111)

A reply below a highlight, at any depth.

- ` + "`" + `["E", <highlight id>]` + "`" + `, ` + "`" + `["K", "9802"]` + "`" + `, ` + "`" + `["P", <highlight author>]` + "`" + `: the thread root.
- ` + "`" + `["e", <parent id>]` + "`" + `, ` + "`" + `["k", <parent kind>]` + "`" + `, ` + "`" + `["p", <parent author>]` + "`" + `: the annotation replied to.

A direct reply to the highlight repeats the root in the parent tags.

## Annotation references

Every annotation lists its ancestors in ` + "`" + `references` + "`" + `, root first and
immediate parent last. Roots have no references.

## Tools

- ` + "`" + `load_uri` + "`" + ` subscribes to relays for a page; results arrive over time.
- ` + "`" + `list_annotations` + "`" + ` and ` + "`" + `get_thread` + "`" + ` read what has arrived so far.
- ` + "`" + `publish_page_note` + "`" + ` and ` + "`" + `reply` + "`" + ` sign with the configured key and
  succeed when at least one write relay accepts the event.
`
