// Package esi resolves Edge Side Include directives in generated markup.
//
// Supported directives:
//
//	<esi:include src="URL"></esi:include>   (or self-closing <esi:include src="URL"/>)
//	<esi:vars>... $(NAME) ...</esi:vars>
//
// Processing model:
//
//   - Scan locates directive spans with a small state machine (no DOM is built).
//   - Include directives in one pass are fetched concurrently and joined back in
//     source order, never completion order.
//   - Fetched fragments are resolved recursively until no directives remain or
//     EffectiveOptions.MaxDepth is reached; deeper directives stay literal.
//   - Failures local to one directive (scan, config, fetch) degrade that span only
//     and are reported in Result.Failures. Only cancellation of the call and a
//     body that is not valid UTF-8 fail the whole call.
//
// Text outside directive spans is copied byte for byte.
package esi
