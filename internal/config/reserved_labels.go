package config

// reservedLabels are document and window members a tracker label must not shadow.
// The seeded element is bound under its label the way a named form control clobbers
// document properties, so reusing one of these names would break page scripts.
var reservedLabels = toSet([]string{
	"window", "document", "self", "top", "parent", "frames", "navigator", "console",
	"globalThis", "history", "localStorage", "sessionStorage",
	"ATTRIBUTE_NODE", "CDATA_SECTION_NODE", "COMMENT_NODE", "DOCUMENT_FRAGMENT_NODE",
	"DOCUMENT_NODE", "DOCUMENT_POSITION_CONTAINED_BY", "DOCUMENT_POSITION_CONTAINS",
	"DOCUMENT_POSITION_DISCONNECTED", "DOCUMENT_POSITION_FOLLOWING",
	"DOCUMENT_POSITION_IMPLEMENTATION_SPECIFIC", "DOCUMENT_POSITION_PRECEDING",
	"DOCUMENT_TYPE_NODE", "ELEMENT_NODE", "ENTITY_NODE", "ENTITY_REFERENCE_NODE",
	"NOTATION_NODE", "PROCESSING_INSTRUCTION_NODE", "TEXT_NODE", "URL", "activeElement",
	"addEventListener", "adoptNode", "alinkColor", "all", "anchors", "appendChild", "applets",
	"baseURI", "baseURIObject", "bgColor", "blockedTrackingNodeCount", "blockedTrackingNodes",
	"body", "captureEvents", "caretPositionFromPoint", "characterSet", "childElementCount",
	"childNodes", "children", "clear", "cloneNode", "close", "compareDocumentPosition",
	"compatMode", "contains", "contentLanguage", "contentType", "cookie", "createAttribute",
	"createAttributeNS", "createCDATASection", "createComment", "createDocumentFragment",
	"createElement", "createElementNS", "createEvent", "createExpression", "createNSResolver",
	"createNodeIterator", "createProcessingInstruction", "createRange", "createTextNode",
	"createTreeWalker", "currentScript", "defaultView", "designMode", "dir", "dispatchEvent",
	"docShell", "doctype", "documentElement", "documentURI", "documentURIObject", "domain",
	"elementFromPoint", "embeds", "enableStyleSheetsForSet", "evaluate", "execCommand",
	"fgColor", "firstChild", "firstElementChild", "forms", "getAnonymousElementByAttribute",
	"getAnonymousNodes", "getBindingParent", "getBoundMutationObservers", "getBoxQuads",
	"getElementById", "getElementsByClassName", "getElementsByName", "getElementsByTagName",
	"getElementsByTagNameNS", "getEventHandler", "getItems", "getSelection", "getUserData",
	"hasChildNodes", "hasFocus", "head", "hidden", "images", "implementation", "importNode",
	"inputEncoding", "insertAnonymousContent", "insertBefore", "isDefaultNamespace",
	"isEqualNode", "isSrcdocDocument", "lastChild", "lastElementChild", "lastModified",
	"lastStyleSheetSet", "linkColor", "links", "loadBindingDocument", "localName", "location",
	"lookupNamespaceURI", "lookupPrefix", "mozCancelFullScreen", "mozExitPointerLock",
	"mozFullScreen", "mozFullScreenElement", "mozFullScreenEnabled", "mozHidden",
	"mozPointerLockElement", "mozSetImageElement", "mozSyntheticDocument",
	"mozVisibilityState", "namespaceURI", "nextSibling", "nodeName", "nodePrincipal",
	"nodeType", "nodeValue", "normalize", "obsoleteSheet", "onabort", "onafterscriptexecute",
	"onbeforescriptexecute", "onblur", "oncanplay", "oncanplaythrough", "onchange", "onclick",
	"oncontextmenu", "oncopy", "oncut", "ondblclick", "ondrag", "ondragend", "ondragenter",
	"ondragleave", "ondragover", "ondragstart", "ondrop", "ondurationchange", "onemptied",
	"onended", "onerror", "onfocus", "oninput", "oninvalid", "onkeydown", "onkeypress",
	"onkeyup", "onload", "onloadeddata", "onloadedmetadata", "onloadstart", "onmousedown",
	"onmouseenter", "onmouseleave", "onmousemove", "onmouseout", "onmouseover", "onmouseup",
	"onmozfullscreenchange", "onmozfullscreenerror", "onmozpointerlockchange",
	"onmozpointerlockerror", "onpaste", "onpause", "onplay", "onplaying", "onprogress",
	"onratechange", "onreadystatechange", "onreset", "onscroll", "onseeked", "onseeking",
	"onselect", "onshow", "onstalled", "onsubmit", "onsuspend", "ontimeupdate",
	"onvolumechange", "onwaiting", "onwheel", "open", "ownerDocument", "ownerGlobal",
	"parentElement", "parentNode", "plugins", "preferredStyleSheetSet", "prefix",
	"previousSibling", "queryCommandEnabled", "queryCommandIndeterm", "queryCommandState",
	"queryCommandSupported", "queryCommandValue", "querySelector", "querySelectorAll",
	"readyState", "referrer", "releaseCapture", "releaseEvents", "removeAnonymousContent",
	"removeChild", "removeEventListener", "replaceChild", "scripts", "selectedStyleSheetSet",
	"setEventHandler", "setUserData", "styleSheetChangeEventsEnabled", "styleSheetSets",
	"styleSheets", "textContent", "title", "visibilityState", "vlinkColor", "write",
	"writeln",
})

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}
