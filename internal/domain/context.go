package domain

// Context — документ, который проходит через одно выполнение pipeline.
//
// Context append-only:
//   - каждая стадия пишет только в свой ключ (Open при запуске job,
//     Merge при завершении, Seal после финализации);
//   - запечатанный ключ больше нельзя изменить;
//   - ключ нельзя открыть повторно.
//
// Context сериализуется в JSON и хранится вместе с Execution.
type Context struct {
	// Trigger — payload триггера, с которым стартовал execution.
	Trigger map[string]any `json:"trigger,omitempty"`

	// Outputs — результаты стадий по ключу стадии.
	Outputs map[string]map[string]any `json:"outputs,omitempty"`

	// Order — порядок, в котором ключи были открыты.
	Order []string `json:"order,omitempty"`

	// Sealed — ключи завершённых стадий.
	Sealed map[string]bool `json:"sealed,omitempty"`
}

// NewContext создаёт Context, засеянный payload триггера.
func NewContext(trigger map[string]any) *Context {
	return &Context{
		Trigger: cloneMap(trigger),
		Outputs: make(map[string]map[string]any),
		Sealed:  make(map[string]bool),
	}
}

// Open создаёт ключ стадии с результатом запуска job.
func (c *Context) Open(key string, fields map[string]any) error {
	if key == "" {
		return ErrEmptyContextKey
	}
	c.ensure()
	if _, exists := c.Outputs[key]; exists {
		return &ContextError{Key: key, Err: ErrContextKeyExists}
	}

	out := cloneMap(fields)
	if out == nil {
		out = make(map[string]any)
	}
	c.Outputs[key] = out
	c.Order = append(c.Order, key)
	return nil
}

// Merge дописывает поля в открытый и ещё не запечатанный ключ.
func (c *Context) Merge(key string, fields map[string]any) error {
	c.ensure()
	out, exists := c.Outputs[key]
	if !exists {
		return &ContextError{Key: key, Err: ErrContextKeyUnknown}
	}
	if c.Sealed[key] {
		return &ContextError{Key: key, Err: ErrContextKeySealed}
	}
	for k, v := range fields {
		out[k] = cloneValue(v)
	}
	return nil
}

// Seal запечатывает ключ. Повторный Seal ничего не меняет.
func (c *Context) Seal(key string) error {
	c.ensure()
	if _, exists := c.Outputs[key]; !exists {
		return &ContextError{Key: key, Err: ErrContextKeyUnknown}
	}
	c.Sealed[key] = true
	return nil
}

// IsSealed проверяет, запечатан ли ключ.
func (c *Context) IsSealed(key string) bool {
	return c.Sealed[key]
}

// Output возвращает копию результата стадии.
func (c *Context) Output(key string) (map[string]any, bool) {
	out, ok := c.Outputs[key]
	if !ok {
		return nil, false
	}
	return cloneMap(out), true
}

// Keys возвращает ключи в порядке открытия.
func (c *Context) Keys() []string {
	keys := make([]string, len(c.Order))
	copy(keys, c.Order)
	return keys
}

// Len возвращает количество ключей.
func (c *Context) Len() int {
	return len(c.Order)
}

// Project возвращает read-only проекцию для входа стадии.
//
// Пустой path — payload триггера, иначе — результат стадии с этим ключом.
// Возвращается глубокая копия: стадия не может изменить чужие данные.
func (c *Context) Project(path string) (map[string]any, error) {
	if path == "" {
		out := cloneMap(c.Trigger)
		if out == nil {
			out = make(map[string]any)
		}
		return out, nil
	}

	out, ok := c.Output(path)
	if !ok {
		return nil, &ContextError{Key: path, Err: ErrContextKeyUnknown}
	}
	return out, nil
}

// Clone возвращает глубокую копию Context.
func (c *Context) Clone() *Context {
	if c == nil {
		return nil
	}
	cp := &Context{
		Trigger: cloneMap(c.Trigger),
		Outputs: make(map[string]map[string]any, len(c.Outputs)),
		Order:   make([]string, len(c.Order)),
		Sealed:  make(map[string]bool, len(c.Sealed)),
	}
	for k, v := range c.Outputs {
		cp.Outputs[k] = cloneMap(v)
	}
	copy(cp.Order, c.Order)
	for k, v := range c.Sealed {
		cp.Sealed[k] = v
	}
	return cp
}

// ensure инициализирует map после json.Unmarshal пустого документа.
func (c *Context) ensure() {
	if c.Outputs == nil {
		c.Outputs = make(map[string]map[string]any)
	}
	if c.Sealed == nil {
		c.Sealed = make(map[string]bool)
	}
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out
	default:
		return v
	}
}
