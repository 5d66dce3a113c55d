package task

import "testing"

func TestDefaultRegistryBuildsEveryVerb(t *testing.T) {
	reg := DefaultRegistry()
	verbs := []string{"say", "play", "gather", "dial", "transcribe", "record", "pause", "redirect", "hangup"}

	for _, v := range verbs {
		task, err := reg.Create(v, map[string]any{})
		if err != nil {
			t.Errorf("Create(%q) failed: %v", v, err)
			continue
		}
		if task.Name() != v {
			t.Errorf("Create(%q).Name() = %q, want %q", v, task.Name(), v)
		}
	}
}

func TestCreateUnknownVerb(t *testing.T) {
	reg := DefaultRegistry()
	if _, err := reg.Create("not_a_verb", map[string]any{}); err == nil {
		t.Fatal("expected error for unknown verb")
	}
}

func TestBuildTasksParsesVerbList(t *testing.T) {
	reg := DefaultRegistry()
	verbs := []any{
		map[string]any{"verb": "say", "text": "hello"},
		map[string]any{"verb": "hangup"},
	}

	tasks, err := reg.BuildTasks(verbs)
	if err != nil {
		t.Fatalf("BuildTasks failed: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("BuildTasks returned %d tasks, want 2", len(tasks))
	}
	if tasks[0].Name() != "say" || tasks[1].Name() != "hangup" {
		t.Errorf("unexpected task order: %s, %s", tasks[0].Name(), tasks[1].Name())
	}
}

func TestBuildTasksRejectsMissingVerbKey(t *testing.T) {
	reg := DefaultRegistry()
	_, err := reg.BuildTasks([]any{map[string]any{"text": "hello"}})
	if err == nil {
		t.Fatal("expected error for verb node missing \"verb\" key")
	}
}

func TestParseHookAcceptsBareURLAndObject(t *testing.T) {
	bare := ParseHook(map[string]any{"actionHook": "https://app.example/a"}, "actionHook")
	if bare == nil || bare.URL != "https://app.example/a" {
		t.Fatalf("ParseHook bare string = %+v", bare)
	}

	obj := ParseHook(map[string]any{
		"eventHook": map[string]any{"url": "https://app.example/e", "method": "GET"},
	}, "eventHook")
	if obj == nil || obj.URL != "https://app.example/e" || obj.Method != "GET" {
		t.Fatalf("ParseHook object = %+v", obj)
	}

	missing := ParseHook(map[string]any{}, "actionHook")
	if missing != nil {
		t.Fatalf("ParseHook for absent key = %+v, want nil", missing)
	}
}
