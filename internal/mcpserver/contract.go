package mcpserver

// PageFormatContract describes the Markdown page format the vault indexes.
// LLM consumers should follow it when creating or editing pages.
const PageFormatContract = `# Vault Page Format

Every page is a Markdown file ending in ` + "`" + `.md` + "`" + `. Files with any other extension
are kept in the file tree but never indexed.

## Structure

` + "```" + `markdown
---
title: Ashen Wastes           # OPTIONAL - defaults to the file name without .md
tags: [region, desert]        # OPTIONAL - list or single string
---

The wastes border [[Kingdom of Veld]] to the north. See
[[Dragons#Habitat|where the wyrms nest]] for the local fauna. #danger
` + "```" + `

## Rules

1. **Frontmatter** is optional. When present the ` + "`" + `---` + "`" + ` fence must be the first line.
   Malformed YAML does not lose the page: it is indexed with its file name as title.
2. **Wikilinks** are ` + "`" + `[[Target]]` + "`" + `, ` + "`" + `[[Target#Section]]` + "`" + `, ` + "`" + `[[Target|Alias]]` + "`" + ` or
   ` + "`" + `[[Target#Section|Alias]]` + "`" + `. The target is a file name without ` + "`" + `.md` + "`" + ` and matches
   case-insensitively, wherever the file lives in the vault.
3. **Page names should be unique.** Two pages with the same file name in different folders
   make links to that name ambiguous.
4. **Tags** come from the ` + "`" + `tags` + "`" + ` frontmatter key and from inline ` + "`" + `#tag` + "`" + ` words in the body.
5. **Renames** go through the ` + "`" + `rename_page` + "`" + ` or ` + "`" + `move_page` + "`" + ` tools, which rewrite every
   link to the renamed page and keep section and alias parts. Renaming a file by other
   means leaves those links broken.
6. **Paths** are relative to the vault root and use forward slashes.
`
