package errs

type fieldsErr interface {
	Fields() map[string]interface{}
}

type unwrapper interface {
	Unwrap() error
}

type fieldsWrap struct {
	err    error
	fields map[string]interface{}
}

func (fw fieldsWrap) Error() string {
	return fw.err.Error()
}

func (fw fieldsWrap) Unwrap() error {
	return fw.err
}

func (fw fieldsWrap) Fields() map[string]interface{} {
	return fw.fields
}

// Fields walks the Unwrap chain of err and merges every Fields() map it
// finds, outermost first, so a key set by an inner error overrides the
// same key set further out. Loggers use this to attach structured context
// without each caller re-deriving it.
func Fields(err error) map[string]interface{} {
	fields := make(map[string]interface{}, 5)

	for err != nil {
		if fe, ok := err.(fieldsErr); ok {
			for k, v := range fe.Fields() {
				fields[k] = v
			}
		}

		uw, ok := err.(unwrapper)
		if !ok {
			break
		}
		err = uw.Unwrap()
	}

	return fields
}

// WithFields attaches structured key/value context to err without changing
// its message or Unwrap target.
func WithFields(err error, fields map[string]interface{}) error {
	return fieldsWrap{err: err, fields: fields}
}
