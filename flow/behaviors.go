package flow

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/agentflow/agentflow-go/flow/adapter"
)

// inputBehavior is the identity behavior: the entry node passes the
// initial state through untouched. Path bookkeeping is owned by the
// executor.
type inputBehavior struct{}

func (inputBehavior) Run(ctx context.Context, info *NodeInfo, state State) Result {
	if _, ok := state[KeyUserInput]; !ok {
		return failure(&NodeError{
			NodeID:  info.ID,
			Kind:    KindInvalidInput,
			Message: "initial state is missing user_input",
		})
	}
	return Result{Delta: State{}}
}

// routerBehavior classifies intent and writes it into state. The
// strategy comes from metadata.strategy; downstream conditional edges
// observe the resulting intent value.
type routerBehavior struct {
	llm adapter.LLM
}

func (r routerBehavior) Run(ctx context.Context, info *NodeInfo, state State) Result {
	inputKey := info.metaString("input_key", KeyUserInput)
	text, _ := state[inputKey].(string)
	defaultIntent := info.metaString("default_intent", "default")

	switch strategy := info.metaString("strategy", "keyword"); strategy {
	case "keyword":
		return r.classifyKeyword(info, text, defaultIntent)
	case "pattern":
		return r.classifyPattern(info, text, defaultIntent)
	case "rules":
		return r.classifyRules(info, state, defaultIntent)
	case "llm":
		return r.classifyLLM(ctx, info, text, defaultIntent)
	case "default":
		return Result{Delta: State{KeyIntent: defaultIntent}}
	default:
		return failure(&NodeError{
			NodeID:  info.ID,
			Kind:    KindInvalidInput,
			Message: "unknown routing strategy " + strategy,
		})
	}
}

// routingRules decodes metadata.rules into a uniform shape.
func routingRules(info *NodeInfo) []map[string]any {
	raw, _ := info.Metadata["rules"].([]any)
	rules := make([]map[string]any, 0, len(raw))
	for _, r := range raw {
		if m, ok := r.(map[string]any); ok {
			rules = append(rules, m)
		}
	}
	return rules
}

// classifyKeyword walks the rules in declaration order; the first rule
// with a case-insensitive keyword hit in the input text wins.
func (routerBehavior) classifyKeyword(info *NodeInfo, text, defaultIntent string) Result {
	lower := strings.ToLower(text)
	for _, rule := range routingRules(info) {
		intent, _ := rule["intent"].(string)
		keywords, _ := rule["keywords"].([]any)
		for _, kw := range keywords {
			k, _ := kw.(string)
			if k != "" && strings.Contains(lower, strings.ToLower(k)) {
				return Result{Delta: State{KeyIntent: intent}}
			}
		}
	}
	return Result{Delta: State{KeyIntent: defaultIntent}}
}

// classifyPattern matches each rule's regular expression against the
// input text.
func (routerBehavior) classifyPattern(info *NodeInfo, text, defaultIntent string) Result {
	var warnings []string
	for _, rule := range routingRules(info) {
		intent, _ := rule["intent"].(string)
		pattern, _ := rule["pattern"].(string)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			warnings = append(warnings, "invalid routing pattern "+pattern+": "+err.Error())
			continue
		}
		if re.MatchString(text) {
			return Result{Delta: State{KeyIntent: intent}, Warnings: warnings}
		}
	}
	return Result{Delta: State{KeyIntent: defaultIntent}, Warnings: warnings}
}

// classifyRules evaluates named predicates over state; the first
// satisfied rule wins.
func (routerBehavior) classifyRules(info *NodeInfo, state State, defaultIntent string) Result {
	var warnings []string
	for _, rule := range routingRules(info) {
		intent, _ := rule["intent"].(string)
		src, _ := rule["condition"].(string)
		cond, err := CompileCondition(src)
		if err != nil {
			warnings = append(warnings, "invalid routing condition "+src+": "+err.Error())
			continue
		}
		ok, warn := cond.Eval(state)
		if warn != "" {
			warnings = append(warnings, warn)
		}
		if ok {
			return Result{Delta: State{KeyIntent: intent}, Warnings: warnings}
		}
	}
	return Result{Delta: State{KeyIntent: defaultIntent}, Warnings: warnings}
}

// classifyLLM delegates classification to the chat model; the returned
// text is parsed as a single intent token.
func (r routerBehavior) classifyLLM(ctx context.Context, info *NodeInfo, text, defaultIntent string) Result {
	if r.llm == nil {
		return failure(&NodeError{
			NodeID:  info.ID,
			Kind:    KindUnavailable,
			Message: "no llm adapter configured for router",
		})
	}

	tmpl := info.metaString("prompt_template",
		"Classify the intent of the following input. Respond with a single word.\n\nInput: {user_input}")
	prompt, warnings := RenderTemplate(tmpl, State{KeyUserInput: text})

	opts := adapter.CompletionOptions{
		SystemPrompt: info.metaString("system_prompt", ""),
		Temperature:  info.metaFloat("temperature"),
		MaxTokens:    info.metaInt("max_tokens"),
		Model:        info.Source.ConfigString("model"),
	}
	out, err := r.llm.Complete(ctx, info.Source.Config, prompt, opts)
	if err != nil {
		return failure(classifyAdapterError(info.ID, err))
	}

	intent := strings.ToLower(strings.Trim(strings.TrimSpace(out.Text), ".!\"'"))
	if i := strings.IndexAny(intent, " \n\t"); i >= 0 {
		intent = intent[:i]
	}
	if intent == "" {
		intent = defaultIntent
	}
	return Result{
		Delta: State{
			KeyIntent:     intent,
			KeyTokensUsed: out.TokensUsed,
			KeyCost:       tokenCost(opts.Model, out.TokensUsed),
		},
		Warnings: warnings,
	}
}

// llmBehavior renders the prompt template against state, invokes the
// chat-completion capability of the node's source, and writes the
// completion to metadata.output_key (default text_result).
type llmBehavior struct {
	llm adapter.LLM
}

func (l llmBehavior) Run(ctx context.Context, info *NodeInfo, state State) Result {
	if l.llm == nil {
		return failure(&NodeError{
			NodeID:  info.ID,
			Kind:    KindUnavailable,
			Message: "no llm adapter configured",
		})
	}
	tmpl := info.metaString("prompt_template", "")
	if tmpl == "" {
		return failure(&NodeError{
			NodeID:  info.ID,
			Kind:    KindInvalidInput,
			Message: "metadata.prompt_template is required for llm nodes",
		})
	}

	prompt, warnings := RenderTemplate(tmpl, state)
	opts := adapter.CompletionOptions{
		SystemPrompt: info.metaString("system_prompt", ""),
		Temperature:  info.metaFloat("temperature"),
		MaxTokens:    info.metaInt("max_tokens"),
		Model:        info.Source.ConfigString("model"),
	}

	out, err := l.llm.Complete(ctx, info.Source.Config, prompt, opts)
	if err != nil {
		return failure(classifyAdapterError(info.ID, err))
	}

	outputKey := info.metaString("output_key", KeyTextResult)
	return Result{
		Delta: State{
			outputKey:     out.Text,
			KeyTokensUsed: out.TokensUsed,
			KeyCost:       tokenCost(opts.Model, out.TokensUsed),
		},
		Warnings: warnings,
	}
}

// imageBehavior renders the prompt as llm does and invokes the
// image-generation capability, storing {url, prompt, size} plus any
// model-specific fields under metadata.output_key (default
// image_result).
type imageBehavior struct {
	image adapter.Image
}

func (b imageBehavior) Run(ctx context.Context, info *NodeInfo, state State) Result {
	if b.image == nil {
		return failure(&NodeError{
			NodeID:  info.ID,
			Kind:    KindUnavailable,
			Message: "no image adapter configured",
		})
	}
	tmpl := info.metaString("prompt_template", "")
	if tmpl == "" {
		return failure(&NodeError{
			NodeID:  info.ID,
			Kind:    KindInvalidInput,
			Message: "metadata.prompt_template is required for image nodes",
		})
	}

	prompt, warnings := RenderTemplate(tmpl, state)
	opts := adapter.ImageOptions{
		Size:  info.metaString("size", "1024x1024"),
		Model: info.Source.ConfigString("model"),
	}

	img, err := b.image.Generate(ctx, info.Source.Config, prompt, opts)
	if err != nil {
		return failure(classifyAdapterError(info.ID, err))
	}

	result := map[string]any{
		"url":    img.URL,
		"prompt": prompt,
		"size":   opts.Size,
	}
	for k, v := range img.Metadata {
		result[k] = v
	}

	outputKey := info.metaString("output_key", KeyImageResult)
	return Result{
		Delta: State{
			outputKey: result,
			KeyCost:   imageCost(opts.Model),
		},
		Warnings: warnings,
	}
}

// dbBehavior parameterises metadata.query_template with state values
// and runs the read-only query capability of the node's source. Write
// statements are rejected by the adapter contract.
type dbBehavior struct {
	db adapter.DB
}

func (b dbBehavior) Run(ctx context.Context, info *NodeInfo, state State) Result {
	if b.db == nil {
		return failure(&NodeError{
			NodeID:  info.ID,
			Kind:    KindUnavailable,
			Message: "no db adapter configured",
		})
	}
	tmpl := info.metaString("query_template", "")
	if tmpl == "" {
		return failure(&NodeError{
			NodeID:  info.ID,
			Kind:    KindInvalidInput,
			Message: "metadata.query_template is required for db nodes",
		})
	}

	query, warnings := RenderTemplate(tmpl, state)
	limit := info.metaInt("limit")

	rows, err := b.db.Query(ctx, info.Source.Config, query, nil, limit)
	if err != nil {
		return failure(classifyAdapterError(info.ID, err))
	}

	rowList := make([]any, len(rows))
	for i, row := range rows {
		rowList[i] = map[string]any(row)
	}

	outputKey := info.metaString("output_key", KeyDBResult)
	return Result{
		Delta:    State{outputKey: rowList},
		Warnings: warnings,
	}
}

// aggregatorBehavior combines named sub-results into
// metadata.output_key (default final_output) and finalizes the run
// bookkeeping: metadata.end_time and metadata.execution_time.
type aggregatorBehavior struct{}

func (aggregatorBehavior) Run(ctx context.Context, info *NodeInfo, state State) Result {
	outputKey := info.metaString("output_key", KeyFinalOutput)
	var (
		output   any
		warnings []string
	)

	switch strategy := info.metaString("strategy", "merge"); strategy {
	case "merge":
		merged := map[string]any{}
		for _, key := range sourceKeys(info) {
			if v, ok := state[key]; ok {
				merged[key] = v
			} else {
				warnings = append(warnings, "aggregator source key "+key+" absent from state")
			}
		}
		output = merged
	case "template":
		tmpl := info.metaString("template", "")
		rendered, warns := RenderTemplate(tmpl, state)
		output = rendered
		warnings = append(warnings, warns...)
	case "priority":
		for _, key := range sourceKeys(info) {
			if v, ok := state[key]; ok && v != nil && v != "" {
				output = v
				break
			}
		}
	default:
		return failure(&NodeError{
			NodeID:  info.ID,
			Kind:    KindInvalidInput,
			Message: "unknown aggregation strategy " + strategy,
		})
	}

	delta := State{outputKey: output}

	// Finalize run bookkeeping from the recorded start time.
	md := map[string]any{}
	endTime := float64(time.Now().UnixNano()) / float64(time.Second)
	md[MetaEndTime] = endTime
	if existing, ok := state[KeyMetadata].(map[string]any); ok {
		if start, ok := existing[MetaStartTime]; ok {
			md[MetaExecutionTime] = endTime - asFloat(start)
		}
	}
	delta[KeyMetadata] = md

	return Result{Delta: delta, Warnings: warnings}
}

// sourceKeys decodes metadata.source_keys.
func sourceKeys(info *NodeInfo) []string {
	raw, _ := info.Metadata["source_keys"].([]any)
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		if s, ok := k.(string); ok {
			keys = append(keys, s)
		}
	}
	return keys
}
