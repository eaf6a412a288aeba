package kafkasink

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/mohammed-shakir/hotkey-sync/internal/core/model"
)

func TestSink_ProducesJSONChangePerEvent(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = false
	mp := mocks.NewAsyncProducer(t, cfg)

	var got []ChangeEvent
	check := func(val []byte) error {
		var ce ChangeEvent
		if err := json.Unmarshal(val, &ce); err != nil {
			return err
		}
		got = append(got, ce)
		return nil
	}
	mp.ExpectInputWithCheckerFunctionAndSucceed(check)
	mp.ExpectInputWithCheckerFunctionAndSucceed(check)

	s := NewWithProducer(mp, "hotkey-changes", 4, nil)
	r1 := model.NewResult("orders", 5, 1, "A")
	s.Observe(model.PushEvent{Result: r1, Key: "A", Added: true, Version: 5})
	r2 := r1.Without("A", 6, 2)
	s.Observe(model.PushEvent{Result: r2, Key: "A", Added: false, Version: 6, PrevVersion: 5})

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("produced %d messages want 2", len(got))
	}
	if got[0].Op != "added" || got[0].App != "orders" || got[0].HotKeys != 1 {
		t.Fatalf("first change %+v", got[0])
	}
	if got[1].Op != "removed" || got[1].PrevVersion != 5 || got[1].HotKeys != 0 {
		t.Fatalf("second change %+v", got[1])
	}
}

func TestSink_ProducerErrorsDoNotStopDelivery(t *testing.T) {
	mp := mocks.NewAsyncProducer(t, nil)
	mp.ExpectInputAndFail(fmt.Errorf("broker down"))
	mp.ExpectInputAndSucceed()

	s := NewWithProducer(mp, "t", 4, nil)
	r := model.NewResult("orders", 1, 1, "A")
	s.Observe(model.PushEvent{Result: r, Key: "A", Added: true, Version: 1})
	s.Observe(model.PushEvent{Result: r, Key: "B", Added: true, Version: 2})

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
