// Package mcp exposes the gateway to AI agents over the Model Context Protocol.
//
// # Tools
//
//   - execute_action: run the execute flow for an action_id
//   - render_content: preview, queue or render a content brief
//   - get_action: read one action record
//   - list_receipts: list receipts recorded for an action
//
// Tool results are JSON text content. Caller errors (unknown action, invalid
// payload, action already executing) come back as tool errors rather than
// protocol errors so agents can read and react to them.
//
// # Authentication
//
// The server does no authentication of its own. It is mounted behind the
// same bearer-token middleware as /v1 and copies the authenticated principal
// into the tool context, so receipts record the agent as triggered_by:
//
//	Authorization: Bearer <token>
//
// # Integration with Claude Desktop
//
//	{
//	  "mcpServers": {
//	    "wrap": {
//	      "url": "http://localhost:8080/mcp",
//	      "authorization": "Bearer <token>"
//	    }
//	  }
//	}
package mcp
